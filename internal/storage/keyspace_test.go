package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bypasskv/internal/model"
)

func TestNewKeySpaceRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewKeySpace(0)
	assert.Error(t, err)
	_, err = NewKeySpace(-3)
	assert.Error(t, err)
}

func TestKeySpaceCapacity(t *testing.T) {
	ks, err := NewKeySpace(1)
	require.NoError(t, err)

	require.NoError(t, ks.Apply(model.NewPut([]byte("a"), model.Payload{"f:q": []byte("1")})))
	// overwriting an existing row is always allowed
	require.NoError(t, ks.Apply(model.NewPut([]byte("a"), model.Payload{"f:r": []byte("2")})))

	err = ks.Apply(model.NewPut([]byte("b"), nil))
	require.Error(t, err)
	assert.Equal(t, ErrCapacity, errors.Cause(err))

	row, ok := ks.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, model.Payload{"f:q": []byte("1"), "f:r": []byte("2")}, row)
	assert.Equal(t, 1, ks.Len())
}

func TestKeySpaceDelete(t *testing.T) {
	ks, err := NewKeySpace(4)
	require.NoError(t, err)

	require.NoError(t, ks.Apply(model.NewPut([]byte("b"), nil)))
	require.NoError(t, ks.Apply(model.NewPut([]byte("a"), nil)))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, ks.Keys())

	require.NoError(t, ks.Apply(model.NewDelete([]byte("a"))))
	_, ok := ks.Get([]byte("a"))
	assert.False(t, ok)
	// deleting a missing row is a no-op
	require.NoError(t, ks.Apply(model.NewDelete([]byte("zzz"))))
}

func TestKeySpaceGetReturnsCopy(t *testing.T) {
	ks, err := NewKeySpace(4)
	require.NoError(t, err)
	require.NoError(t, ks.Apply(model.NewPut([]byte("a"), model.Payload{"f:q": []byte("v")})))

	row, _ := ks.Get([]byte("a"))
	row["f:q"][0] = 'X'

	again, _ := ks.Get([]byte("a"))
	assert.Equal(t, []byte("v"), again["f:q"])
}

func TestSegmentWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.log")
	f, err := OpenSegment(path)
	require.NoError(t, err)
	require.NoError(t, Write(f, []byte("hello world")))
	require.NoError(t, f.Close())

	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := Read(r, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)

	short, err := Read(r, 8, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("rld"), short)
}

func TestKeySpaceAdmit(t *testing.T) {
	ks, err := NewKeySpace(1)
	require.NoError(t, err)
	require.NoError(t, ks.Admit(model.NewPut([]byte("a"), nil)))
	require.NoError(t, ks.Apply(model.NewPut([]byte("a"), nil)))

	assert.NoError(t, ks.Admit(model.NewPut([]byte("a"), nil)))
	assert.NoError(t, ks.Admit(model.NewDelete([]byte("b"))))
	assert.Equal(t, ErrCapacity, errors.Cause(ks.Admit(model.NewPut([]byte("b"), nil))))
	assert.Error(t, ks.Admit(model.Mutation{Op: model.OpsType(7), Key: []byte("a")}))
}
