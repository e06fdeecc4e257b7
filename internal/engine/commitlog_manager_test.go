package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"bypasskv/internal/model"
)

func testCfg(path string) CommitLogCfg {
	return CommitLogCfg{
		Path:                 path,
		EnqueueTimeout:       500 * time.Millisecond,
		FlushInterval:        30 * time.Second, // avoid periodic flush interference
		MaxEnqueuingMutation: 16,
		BufferBytes:          128, // small to trigger flush by size with crafted payloads
	}
}

func TestCommitLogFlushOnBufferLimit(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")

	mgr, err := NewCommitLogManager(context.Background(), testCfg(walPath))
	if err != nil {
		t.Fatalf("create commit log manager: %v", err)
	}
	defer mgr.Close()

	first := model.NewPut([]byte("k1"), model.Payload{"f:q": []byte("v1")})
	if _, err := mgr.Append(context.Background(), first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if size := walFileSize(walPath); size != 0 {
		t.Fatalf("expected no flush after first append, got size %d", size)
	}

	second := model.NewPut(bytes.Repeat([]byte("a"), 60), model.Payload{"f:q": bytes.Repeat([]byte("b"), 20)})
	if _, err := mgr.Append(context.Background(), second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	// Each append is blocking, so the second one has already flushed the first.
	if size := walFileSize(walPath); size == 0 {
		t.Fatalf("expected flush on buffer limit, got size %d", size)
	}
}

func TestCommitLogFlushOnClose(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")

	mgr, err := NewCommitLogManager(context.Background(), testCfg(walPath))
	if err != nil {
		t.Fatalf("create commit log manager: %v", err)
	}

	if _, err := mgr.Append(context.Background(), model.NewPut([]byte("k1"), nil)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if size := walFileSize(walPath); size != 0 {
		t.Fatalf("expected no flush after first append, got size %d", size)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if size := walFileSize(walPath); size == 0 {
		t.Fatalf("expected flush on close, got size %d", size)
	}

	if _, err := mgr.Append(context.Background(), model.NewPut([]byte("k2"), nil)); err != ErrClosed {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestCommitLogFlushOnInterval(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")
	cfg := testCfg(walPath)
	cfg.FlushInterval = 20 * time.Millisecond
	cfg.BufferBytes = 1 << 20 // large to avoid size-based flush

	mgr, err := NewCommitLogManager(context.Background(), cfg)
	if err != nil {
		t.Fatalf("create commit log manager: %v", err)
	}
	defer mgr.Close()

	if _, err := mgr.Append(context.Background(), model.NewPut([]byte("k1"), nil)); err != nil {
		t.Fatalf("append: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for walFileSize(walPath) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected periodic flush to write data")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCommitLogLoadRoundTrip(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")

	mgr, err := NewCommitLogManager(context.Background(), testCfg(walPath))
	if err != nil {
		t.Fatalf("create commit log manager: %v", err)
	}
	in := []model.Mutation{
		model.NewPut([]byte("non bypassed put"), model.Payload{"f:qualifier": []byte("value"), "f:other": nil}),
		model.NewDelete([]byte("gone")),
		model.NewPut([]byte("empty"), nil),
	}
	for _, mut := range in {
		if _, err := mgr.Append(context.Background(), mut); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out := Load(walPath)
	if len(out) != len(in) {
		t.Fatalf("loaded %d mutations, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Sequence != uint64(i+1) {
			t.Fatalf("record %d: sequence %d, want %d", i, out[i].Sequence, i+1)
		}
		if out[i].Op != in[i].Op || !bytes.Equal(out[i].Key, in[i].Key) {
			t.Fatalf("record %d: got %v %q, want %v %q", i, out[i].Op, out[i].Key, in[i].Op, in[i].Key)
		}
		if len(out[i].Payload) != len(in[i].Payload) {
			t.Fatalf("record %d: %d columns, want %d", i, len(out[i].Payload), len(in[i].Payload))
		}
		for col, v := range in[i].Payload {
			if !bytes.Equal(out[i].Payload[col], v) {
				t.Fatalf("record %d column %s: got %q want %q", i, col, out[i].Payload[col], v)
			}
		}
	}

	// a reopened log continues the sequence
	mgr, err = NewCommitLogManager(context.Background(), testCfg(walPath))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer mgr.Close()
	mut, err := mgr.Append(context.Background(), model.NewPut([]byte("next"), nil))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if mut.Sequence != 4 {
		t.Fatalf("sequence after reopen: got %d want 4", mut.Sequence)
	}
}

func TestCommitLogLoadStopsAtTruncation(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")

	good := encodeMutation(model.Mutation{Op: model.PUT, Key: []byte("a"), Sequence: 1})
	bad := encodeMutation(model.Mutation{Op: model.PUT, Key: []byte("b"), Sequence: 2})
	data := append(append([]byte{}, good...), bad[:len(bad)-3]...)
	if err := os.WriteFile(walPath, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := Load(walPath)
	if len(out) != 1 || string(out[0].Key) != "a" {
		t.Fatalf("expected only the intact record, got %+v", out)
	}
}

func TestCommitLogLoadStopsAtCorruption(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")

	first := encodeMutation(model.Mutation{Op: model.PUT, Key: []byte("a"), Sequence: 1})
	second := encodeMutation(model.Mutation{Op: model.PUT, Key: []byte("b"), Sequence: 2})
	second[len(second)-1] ^= 0xff
	if err := os.WriteFile(walPath, append(first, second...), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if out := Load(walPath); len(out) != 1 {
		t.Fatalf("expected 1 mutation before the corrupted record, got %d", len(out))
	}
}

func TestCommitLogLoadStopsAtOversizedLength(t *testing.T) {
	walPath := filepath.Join(t.TempDir(), "wal.log")

	first := encodeMutation(model.Mutation{Op: model.PUT, Key: []byte("a"), Sequence: 1})
	header := []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}
	if err := os.WriteFile(walPath, append(first, header...), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	out := Load(walPath)
	runtime.ReadMemStats(&after)

	if len(out) != 1 {
		t.Fatalf("expected 1 mutation before the bad header, got %d", len(out))
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
		t.Fatalf("load allocated %d bytes for a %d byte segment", grew, walFileSize(walPath))
	}
	if next := nextSequence(walPath); next != 2 {
		t.Fatalf("expected next sequence 2, got %d", next)
	}
}

func TestDecodePayloadRejectsBadOpType(t *testing.T) {
	record := encodeMutation(model.Mutation{Op: model.OpsType(9), Key: []byte("a")})
	if _, err := decodePayload(record[payloadLenBytes+checksumBytes:]); err == nil {
		t.Fatalf("expected invalid op type error")
	}
}

func walFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
