package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPutCopiesInput(t *testing.T) {
	key := []byte("row")
	payload := Payload{Column("f", "qualifier"): []byte("value")}

	mut := NewPut(key, payload)
	key[0] = 'x'
	payload[Column("f", "qualifier")][0] = 'X'

	assert.Equal(t, []byte("row"), mut.Key)
	assert.Equal(t, []byte("value"), mut.Payload["f:qualifier"])
	assert.Equal(t, PUT, mut.Op)
}

func TestSameKeyComparesValues(t *testing.T) {
	a := NewPut([]byte("bypassed put"), nil)
	b := NewDelete([]byte("bypassed put"))
	c := NewPut([]byte("non bypassed put"), nil)

	assert.True(t, a.SameKey(b))
	assert.False(t, a.SameKey(c))
}

func TestPayloadColumnsSorted(t *testing.T) {
	p := Payload{"f:b": nil, "f:a": nil, "e:z": nil}
	assert.Equal(t, []string{"e:z", "f:a", "f:b"}, p.Columns())
	assert.Nil(t, Payload(nil).Clone())
}
