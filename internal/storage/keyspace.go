package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"bypasskv/internal/model"
)

// ErrCapacity is returned when a put would add a row beyond the key space's
// capacity. Overwriting an existing row never fails.
var ErrCapacity = errors.New("key space is at capacity")

// KeySpace is a bounded in-memory map of row key to payload. Puts merge
// columns into an existing row, deletes drop the whole row.
type KeySpace struct {
	mu       sync.RWMutex
	capacity int
	rows     map[string]model.Payload
}

func NewKeySpace(capacity int) (*KeySpace, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("key space capacity must be positive, got %d", capacity)
	}
	return &KeySpace{capacity: capacity, rows: make(map[string]model.Payload)}, nil
}

func (ks *KeySpace) Capacity() int {
	return ks.capacity
}

func (ks *KeySpace) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.rows)
}

// Admit reports whether Apply would accept the mutation right now. It lets a
// caller log a mutation ahead of applying it without logging one that the key
// space will refuse.
func (ks *KeySpace) Admit(mut model.Mutation) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.admitLocked(mut)
}

func (ks *KeySpace) admitLocked(mut model.Mutation) error {
	switch mut.Op {
	case model.PUT:
		if _, ok := ks.rows[string(mut.Key)]; !ok && len(ks.rows) >= ks.capacity {
			return errors.Wrapf(ErrCapacity, "put %q (capacity %d)", mut.Key, ks.capacity)
		}
		return nil
	case model.DELETE:
		return nil
	default:
		return errors.Errorf("invalid operation type: %d", mut.Op)
	}
}

// Apply writes a mutation. Payload bytes are copied.
func (ks *KeySpace) Apply(mut model.Mutation) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.admitLocked(mut); err != nil {
		return err
	}
	k := string(mut.Key)
	if mut.Op == model.DELETE {
		delete(ks.rows, k)
		return nil
	}
	row, ok := ks.rows[k]
	if !ok {
		row = make(model.Payload, len(mut.Payload))
		ks.rows[k] = row
	}
	for col, v := range mut.Payload {
		row[col] = append([]byte(nil), v...)
	}
	return nil
}

// Get returns a copy of the row's payload.
func (ks *KeySpace) Get(key []byte) (model.Payload, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	row, ok := ks.rows[string(key)]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Keys returns all row keys in byte order.
func (ks *KeySpace) Keys() [][]byte {
	ks.mu.RLock()
	out := make([][]byte, 0, len(ks.rows))
	for k := range ks.rows {
		out = append(out, []byte(k))
	}
	ks.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}
