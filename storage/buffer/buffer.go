package buffer

import "github.com/HayatoShiba/ppvacuum/storage/page"

// BufferID is the index of buffers/descriptors
type BufferID int32

const (
	// InvalidBufferID is returned when no buffer is available
	InvalidBufferID BufferID = -1
	// FirstBufferID is the first buffer id
	FirstBufferID BufferID = 0
)

// buffer is byte array
// page is fetched from disk into this
type buffer *[bufferSize]byte

// newBuffers initializes buffer pool
func newBuffers(n int) []buffer {
	buffers := make([]buffer, n)
	for i := 0; i < n; i++ {
		buffers[i] = &[bufferSize]byte{}
	}
	return buffers
}

const (
	// the size of one buffer.
	// this must be equal to page size because page is fetched into buffer
	// buffer-related metadata is managed in different structure called `buffer descriptor`
	bufferSize = page.PageSize

	// DefaultBufferNum is the number of buffers when the caller does not specify it
	// 4096 buffers are 32MB, which is the default of shared_buffers in postgres
	// https://www.postgresql.org/docs/current/runtime-config-resource.html
	DefaultBufferNum = 4096
)
