/*
Write ahead log.
ppvacuum only appends records and returns their position. Replay is not implemented.

The position (WALRecordPtr, called LSN in postgres) is the byte offset right after the record,
so it increases monotonically and 0 is never returned.
The position is stamped on the page the record describes, and the page must not be written out
before the wal up to that position is flushed (the buffer manager does not enforce it here).
see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/transam/README#L400
*/
package wal

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/HayatoShiba/ppvacuum/common"
)

// Log is the append point of write ahead log
type Log struct {
	mu sync.Mutex
	// insertPtr is the position of the end of the last record
	insertPtr common.WALRecordPtr
	// file is nil when the log lives in memory
	file *os.File
	// records is kept only when the log lives in memory
	records []Record
	buf     []byte
}

// NewLog initializes write ahead log in memory
func NewLog() *Log {
	return &Log{}
}

// Open opens the wal file and appends records after its end
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "os.OpenFile failed")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "Stat failed")
	}
	return &Log{
		insertPtr: common.WALRecordPtr(st.Size()),
		file:      f,
	}, nil
}

// Append appends the record and returns its position
// see https://github.com/postgres/postgres/blob/75f49221c22286104f032827359783aa5f4e6646/src/backend/access/transam/xloginsert.c#L424
func (l *Log) Append(r Record) (common.WALRecordPtr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		l.records = append(l.records, r)
		l.insertPtr += common.WALRecordPtr(r.size())
		return l.insertPtr, nil
	}
	l.buf = r.encode(l.buf[:0])
	if _, err := l.file.Write(l.buf); err != nil {
		return common.InvalidWALRecordPtr, errors.Wrap(err, "Write failed")
	}
	l.insertPtr += common.WALRecordPtr(len(l.buf))
	return l.insertPtr, nil
}

// InsertPtr returns the position of the end of the last record
func (l *Log) InsertPtr() common.WALRecordPtr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertPtr
}

// Records returns the records appended so far
// the file is read from the beginning when the log is backed by a file
func (l *Log) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		records := make([]Record, len(l.records))
		copy(records, l.records)
		return records, nil
	}

	b, err := io.ReadAll(io.NewSectionReader(l.file, 0, int64(l.insertPtr)))
	if err != nil {
		return nil, errors.Wrap(err, "ReadAll failed")
	}
	var records []Record
	for len(b) > 0 {
		r, n, err := Decode(b)
		if err != nil {
			return nil, errors.Wrap(err, "Decode failed")
		}
		records = append(records, r)
		b = b[n:]
	}
	return records, nil
}

// Flush syncs the wal file
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "Sync failed")
	}
	return nil
}

// Close flushes and closes the wal file
func (l *Log) Close() error {
	if err := l.Flush(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.Wrap(err, "Close failed")
	}
	return nil
}
