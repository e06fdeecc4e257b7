package hooks

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"bypasskv/internal/model"
)

// ErrUnsupportedPredicate is returned when a predicate cannot be shipped to a
// remote region. Only KeySet predicates have a wire form.
var ErrUnsupportedPredicate = errors.New("bypass predicate has no wire representation")

// BypassPredicate decides whether a mutation is suppressed at pre-write time.
// An error aborts the rest of the batch.
type BypassPredicate interface {
	Bypass(mut model.Mutation) (bool, error)
}

// PredicateFunc adapts a plain function to BypassPredicate.
type PredicateFunc func(mut model.Mutation) (bool, error)

func (f PredicateFunc) Bypass(mut model.Mutation) (bool, error) {
	return f(mut)
}

// NeverBypass is the default predicate.
var NeverBypass BypassPredicate = PredicateFunc(func(model.Mutation) (bool, error) {
	return false, nil
})

// KeySet bypasses every mutation whose row key is in the set.
type KeySet struct {
	keys map[string]struct{}
}

func NewKeySet(keys ...[]byte) *KeySet {
	ks := &KeySet{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		ks.keys[string(k)] = struct{}{}
	}
	return ks
}

func (ks *KeySet) Bypass(mut model.Mutation) (bool, error) {
	_, ok := ks.keys[string(mut.Key)]
	return ok, nil
}

// Keys returns the bypassed row keys in byte order.
func (ks *KeySet) Keys() [][]byte {
	out := make([][]byte, 0, len(ks.keys))
	for k := range ks.keys {
		out = append(out, []byte(k))
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}
