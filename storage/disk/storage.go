/*
This file defines storage interface and its implementations.
We don't want to execute disk I/O in test, so byte slice can be used instead of actual file.
Possible operation with storage is read/write/seek/sync/truncate/get size/close.
The implementations are:
- fileStorage: wrapper of os.File
- bufferStorage: byte slice and the current position of the byte slice.

note:
- bytes.Buffer doesn't implement io.Seeker because it is designed to read data in buffer once.
- bytes.Reader doesn't implement io.Writer
- so bufferStorage is defined here.
*/
package disk

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// storage is storage which implements multiple operations necessary for relation fork file.
type storage interface {
	io.ReadWriteSeeker
	io.Closer
	Size() (int64, error)
	Sync() error
	Truncate(size int64) error
}

// fileStorage is file storage
type fileStorage struct {
	*os.File
}

// Size returns the storage's size
func (fs fileStorage) Size() (int64, error) {
	stat, err := fs.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "Stat failed")
	}
	return stat.Size(), nil
}

// bufferStorage is buffer storage
type bufferStorage struct {
	// buf is actual contents
	buf []byte
	// off is current position
	off int
}

// newBufferStorage initializes empty bufferStorage
func newBufferStorage() *bufferStorage {
	return &bufferStorage{}
}

// Size returns the buffer size
func (bs *bufferStorage) Size() (int64, error) {
	return int64(len(bs.buf)), nil
}

// Close does nothing, the contents are dropped with the storage
func (bs *bufferStorage) Close() error {
	return nil
}

// Sync doesn't do anything. on-memory byte slice doesn't need sync
func (bs *bufferStorage) Sync() error {
	return nil
}

// Truncate cuts the buffer down to size
func (bs *bufferStorage) Truncate(size int64) error {
	if size < 0 || size > int64(len(bs.buf)) {
		return errors.Errorf("invalid truncate size %d for buffer of %d bytes", size, len(bs.buf))
	}
	bs.buf = bs.buf[:size]
	if bs.off > len(bs.buf) {
		bs.off = len(bs.buf)
	}
	return nil
}

// Read reads buffer at current position into p
func (bs *bufferStorage) Read(p []byte) (n int, err error) {
	if bs.off >= len(bs.buf) {
		return 0, io.EOF
	}
	nread := copy(p, bs.buf[bs.off:])
	bs.off += nread
	return nread, nil
}

// Write writes p into buffer at current position, growing the buffer if necessary.
// the capacity is at least doubled, so appending pages one by one copies each byte a few times only
func (bs *bufferStorage) Write(p []byte) (n int, err error) {
	if end := bs.off + len(p); end > len(bs.buf) {
		if end > cap(bs.buf) {
			grown := make([]byte, len(bs.buf), max(end, 2*cap(bs.buf)))
			copy(grown, bs.buf)
			bs.buf = grown
		}
		// bytes past the old end may be left from before a truncation
		oldLen := len(bs.buf)
		bs.buf = bs.buf[:end]
		clear(bs.buf[oldLen:])
	}
	nwritten := copy(bs.buf[bs.off:], p)
	bs.off += nwritten
	return nwritten, nil
}

// Seek seeks and moves buffer off
func (bs *bufferStorage) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, errors.Errorf("whence is unexpected: %d", whence)
	}
	if offset < 0 {
		return 0, errors.Errorf("negative offset %d", offset)
	}
	bs.off = int(offset)
	return offset, nil
}
