package storage

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Note: segment access is single-writer while a region is open, with readers
// only during recovery. These helpers do not coordinate concurrent writers and
// readers; callers own the file lifecycle and any synchronization.

// OpenSegment opens (creating if needed) a commit log segment for appending.
func OpenSegment(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open segment %s", path)
	}
	return f, nil
}

// Write appends bytes to the given open file handle.
func Write(file *os.File, data []byte) error {
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return errors.Wrap(err, "write")
	}
	if err := writer.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	return nil
}

// Read reads up to length bytes starting at offset. A short slice is returned
// when the file ends before length bytes; callers treat that as truncation.
func Read(file *os.File, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read %d bytes at %d", length, offset)
	}
	return buf[:n], nil
}
