package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"bypasskv/internal/model"
	"bypasskv/internal/storage"
)

// ErrEnqueueTimeout is returned when the writer goroutine does not accept a
// record within CommitLogCfg.EnqueueTimeout.
var ErrEnqueueTimeout = errors.New("timeout waiting for mutation to be added to commit log")

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("commit log is closed")

type segmentFlusher struct {
	segment        *os.File
	buffer         bytes.Buffer
	maxBufferBytes int
}

type appendRequest struct {
	record []byte
	done   chan error
}

type CommitLogCfg struct {
	Path                 string
	EnqueueTimeout       time.Duration
	FlushInterval        time.Duration
	MaxEnqueuingMutation int
	BufferBytes          int
}

/*
CommitLogManager is the write-ahead log of a region. Only mutations that
survive the bypass predicate reach it.

A single writer goroutine owns the segment:
- Ordering: the channel preserves request order and only the writer touches the file.
- Backpressure: a bounded channel plus EnqueueTimeout lets callers fail fast.
- Handshake: each request carries a done channel reporting whether it was buffered.
- Shutdown: Close cancels the writer, which flushes outstanding data before exiting.
*/
type CommitLogManager struct {
	cfg      CommitLogCfg
	requests chan appendRequest
	flusher  segmentFlusher
	flushT   *time.Ticker

	seqMu   sync.Mutex
	nextSeq uint64

	cancel context.CancelFunc
	stopped chan struct{}
}

const (
	payloadLenBytes                = 4
	checksumBytes                  = 4
	seqNumBytes                    = 8
	opTypeBytes                    = 1
	lenFieldSize                   = 4
	defaultCommitLogBufferBytes    = 4 * 1024 * 1024
	minimalCommitLogBufferBytes    = 128
	defaultMaxEnqueuingMutationVal = 1024
	defaultEnqueueTimeout          = 5 * time.Second
	defaultFlushInterval           = time.Second
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func NewCommitLogManager(ctx context.Context, cfg CommitLogCfg) (*CommitLogManager, error) {
	f, err := storage.OpenSegment(cfg.Path)
	if err != nil {
		return nil, err
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultCommitLogBufferBytes
	}
	if bufferBytes < minimalCommitLogBufferBytes {
		bufferBytes = minimalCommitLogBufferBytes
	}
	maxQueue := cfg.MaxEnqueuingMutation
	if maxQueue <= 0 {
		maxQueue = defaultMaxEnqueuingMutationVal
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	m := &CommitLogManager{
		cfg:      cfg,
		requests: make(chan appendRequest, maxQueue),
		flushT:   time.NewTicker(cfg.FlushInterval),
		flusher: segmentFlusher{
			segment:        f,
			maxBufferBytes: bufferBytes,
		},
		nextSeq: nextSequence(cfg.Path),
		stopped: make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go func() {
		defer close(m.stopped)
		m.run(runCtx)
		m.flushT.Stop()
		if err := m.flusher.flush(); err != nil {
			log.Printf("commit log final flush error: %v", err)
		}
		_ = m.flusher.segment.Close()
	}()
	return m, nil
}

// Append buffers a mutation into the commit log and returns it with its
// assigned sequence number.
func (cm *CommitLogManager) Append(ctx context.Context, mut model.Mutation) (model.Mutation, error) {
	cm.seqMu.Lock()
	defer cm.seqMu.Unlock()

	mut.Sequence = cm.nextSeq
	req := appendRequest{record: encodeMutation(mut), done: make(chan error, 1)}

	timer := time.NewTimer(cm.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case <-cm.stopped:
		return mut, ErrClosed
	case cm.requests <- req:
	case <-timer.C:
		return mut, ErrEnqueueTimeout
	case <-ctx.Done():
		return mut, errors.WithStack(ctx.Err())
	}

	var err error
	select {
	case err = <-req.done:
	case <-cm.stopped:
		select {
		case err = <-req.done:
		default:
			return mut, ErrClosed
		}
	}
	if err != nil {
		return mut, err
	}
	cm.nextSeq++
	return mut, nil
}

// Close stops the writer goroutine and waits for the final flush.
func (cm *CommitLogManager) Close() error {
	cm.cancel()
	<-cm.stopped
	return nil
}

func (cm *CommitLogManager) Path() string {
	return cm.cfg.Path
}

// Load reads the whole segment back. It stops at the first corrupted or
// truncated record, which is the crash-safe boundary.
func (cm *CommitLogManager) Load() []model.Mutation {
	return Load(cm.cfg.Path)
}

// Load reads the segment at path, see (*CommitLogManager).Load.
func Load(path string) []model.Mutation {
	mutations := make([]model.Mutation, 0)

	readFile, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("failed to open commit log for reading: %v", err)
		}
		return mutations
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil {
		log.Printf("failed to stat commit log: %v", err)
		return mutations
	}
	fileSize := fileInfo.Size()
	if fileSize == 0 {
		return mutations
	}

	var offset int64
	recordNum := 0
	for offset < fileSize {
		header, err := storage.Read(readFile, offset, payloadLenBytes+checksumBytes)
		if err != nil {
			log.Printf("error reading record header at offset %d: %v", offset, err)
			break
		}
		if len(header) < payloadLenBytes+checksumBytes {
			log.Printf("truncated at record %d: incomplete header at offset %d", recordNum, offset)
			break
		}
		payloadLen := binary.BigEndian.Uint32(header[:payloadLenBytes])
		expectedChecksum := binary.BigEndian.Uint32(header[payloadLenBytes:])
		offset += payloadLenBytes + checksumBytes

		if offset+int64(payloadLen) > fileSize {
			log.Printf("truncated at record %d: incomplete payload at offset %d (expected %d bytes)",
				recordNum, offset, payloadLen)
			break
		}
		payload, err := storage.Read(readFile, offset, int(payloadLen))
		if err != nil {
			log.Printf("error reading payload at offset %d: %v", offset, err)
			break
		}
		if len(payload) < int(payloadLen) {
			log.Printf("truncated at record %d: incomplete payload at offset %d (expected %d bytes)",
				recordNum, offset, payloadLen)
			break
		}
		offset += int64(payloadLen)

		if actual := crc32.Checksum(payload, castagnoli); actual != expectedChecksum {
			log.Printf("CRC mismatch at record %d: expected %x, got %x - stopping at corruption boundary",
				recordNum, expectedChecksum, actual)
			break
		}

		mut, err := decodePayload(payload)
		if err != nil {
			log.Printf("failed to decode record %d: %v - stopping", recordNum, err)
			break
		}
		mutations = append(mutations, mut)
		recordNum++
	}

	log.Printf("loaded %d mutations from commit log (file size: %d bytes)", len(mutations), fileSize)
	return mutations
}

func (cm *CommitLogManager) run(ctx context.Context) {
	for {
		select {
		case req := <-cm.requests:
			req.done <- cm.flusher.write(req.record)
		case <-cm.flushT.C:
			if err := cm.flusher.flush(); err != nil {
				log.Printf("commit log periodic flush error: %v", err)
			}
		case <-ctx.Done():
			// drain what was accepted before the cancel
			for {
				select {
				case req := <-cm.requests:
					req.done <- cm.flusher.write(req.record)
				default:
					return
				}
			}
		}
	}
}

func (flusher *segmentFlusher) write(data []byte) error {
	if flusher.segment == nil {
		return errors.New("no active segment")
	}
	if len(data) > flusher.maxBufferBytes {
		return errors.Errorf("commit log entry (%d bytes) exceeds buffer size (%d bytes)", len(data), flusher.maxBufferBytes)
	}
	if flusher.buffer.Len()+len(data) > flusher.maxBufferBytes {
		if err := flusher.flush(); err != nil {
			return err
		}
	}
	_, err := flusher.buffer.Write(data)
	return err
}

func (flusher *segmentFlusher) flush() error {
	if flusher.segment == nil {
		return errors.New("no active segment")
	}
	if flusher.buffer.Len() == 0 {
		return nil
	}
	if err := storage.Write(flusher.segment, flusher.buffer.Bytes()); err != nil {
		return err
	}
	if err := flusher.segment.Sync(); err != nil {
		return errors.Wrap(err, "fsync segment")
	}
	flusher.buffer.Reset()
	return nil
}

// nextSequence returns the sequence number following the last intact record
// at path, or 1 for an empty or missing segment.
func nextSequence(path string) uint64 {
	muts := Load(path)
	if len(muts) == 0 {
		return 1
	}
	return muts[len(muts)-1].Sequence + 1
}

/*
encodeMutation frames a mutation for the commit log:

| PayloadLength | CRC32C  | Sequence | OpType | KeyLen  | Key     | ColCount | Columns... |
|---------------|---------|----------|--------|---------|---------|----------|------------|
| 4 bytes       | 4 bytes | 8 bytes  | 1 byte | 4 bytes | K bytes | 4 bytes  | see below  |

Each column is | NameLen 4 | Name | ValueLen 4 | Value |, written in sorted
column order so equal mutations encode identically. The CRC covers everything
from Sequence to the end of the payload.
*/
func encodeMutation(mut model.Mutation) []byte {
	cols := mut.Payload.Columns()
	size := seqNumBytes + opTypeBytes + lenFieldSize + len(mut.Key) + lenFieldSize
	for _, col := range cols {
		size += 2*lenFieldSize + len(col) + len(mut.Payload[col])
	}

	payload := make([]byte, 0, size)
	payload = binary.BigEndian.AppendUint64(payload, mut.Sequence)
	payload = append(payload, byte(mut.Op))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(mut.Key)))
	payload = append(payload, mut.Key...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(cols)))
	for _, col := range cols {
		v := mut.Payload[col]
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(col)))
		payload = append(payload, col...)
		payload = binary.BigEndian.AppendUint32(payload, uint32(len(v)))
		payload = append(payload, v...)
	}

	record := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	record = binary.BigEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.BigEndian.AppendUint32(record, crc32.Checksum(payload, castagnoli))
	return append(record, payload...)
}

// decodePayload extracts a Mutation from the payload portion of a record,
// preserving its logged sequence number.
func decodePayload(payload []byte) (model.Mutation, error) {
	r := payloadReader{buf: payload}

	seq, err := r.readUint64()
	if err != nil {
		return model.Mutation{}, errors.Wrap(err, "sequence")
	}
	op, err := r.readByte()
	if err != nil {
		return model.Mutation{}, errors.Wrap(err, "op type")
	}
	opType := model.OpsType(op)
	if opType != model.PUT && opType != model.DELETE {
		return model.Mutation{}, errors.Errorf("invalid operation type: %d", opType)
	}
	key, err := r.readLenPrefixed()
	if err != nil {
		return model.Mutation{}, errors.Wrap(err, "key")
	}
	count, err := r.readUint32()
	if err != nil {
		return model.Mutation{}, errors.Wrap(err, "column count")
	}

	var cols model.Payload
	if count > 0 {
		cols = make(model.Payload, count)
	}
	for i := uint32(0); i < count; i++ {
		name, err := r.readLenPrefixed()
		if err != nil {
			return model.Mutation{}, errors.Wrapf(err, "column %d name", i)
		}
		value, err := r.readLenPrefixed()
		if err != nil {
			return model.Mutation{}, errors.Wrapf(err, "column %d value", i)
		}
		cols[string(name)] = value
	}
	if r.pos != len(payload) {
		return model.Mutation{}, errors.Errorf("%d trailing bytes after mutation", len(payload)-r.pos)
	}

	return model.Mutation{Op: opType, Key: key, Payload: cols, Sequence: seq}, nil
}

type payloadReader struct {
	buf []byte
	pos int
}

func (r *payloadReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return errors.Errorf("need %d bytes at %d, payload has %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *payloadReader) readByte() (byte, error) {
	if err := r.need(opTypeBytes); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *payloadReader) readUint32() (uint32, error) {
	if err := r.need(lenFieldSize); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += lenFieldSize
	return v, nil
}

func (r *payloadReader) readUint64() (uint64, error) {
	if err := r.need(seqNumBytes); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += seqNumBytes
	return v, nil
}

func (r *payloadReader) readLenPrefixed() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}
