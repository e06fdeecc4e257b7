package model

import (
	"bytes"
	"sort"
)

type OpsType byte

const (
	PUT OpsType = iota
	DELETE
)

func (o OpsType) String() string {
	switch o {
	case PUT:
		return "put"
	case DELETE:
		return "delete"
	default:
		return "unknown"
	}
}

// Payload maps a column (family:qualifier) to its value.
type Payload map[string][]byte

// Column builds the payload column name for a family and qualifier.
func Column(family, qualifier string) string {
	return family + ":" + qualifier
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for col, v := range p {
		out[col] = append([]byte(nil), v...)
	}
	return out
}

// Columns returns the column names in sorted order.
func (p Payload) Columns() []string {
	cols := make([]string, 0, len(p))
	for col := range p {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Mutation is a single operation of a batch. Mutations are treated as
// immutable once built; use NewPut/NewDelete so the key and payload are copied.
// Sequence is assigned by the commit log and is zero for in-flight mutations.
type Mutation struct {
	Op       OpsType
	Key      []byte
	Payload  Payload
	Sequence uint64
}

func NewPut(key []byte, payload Payload) Mutation {
	return Mutation{
		Op:      PUT,
		Key:     append([]byte(nil), key...),
		Payload: payload.Clone(),
	}
}

func NewDelete(key []byte) Mutation {
	return Mutation{Op: DELETE, Key: append([]byte(nil), key...)}
}

// SameKey reports whether both mutations target the same row. Equality is by
// key value, not identity.
func (m Mutation) SameKey(other Mutation) bool {
	return bytes.Equal(m.Key, other.Key)
}
