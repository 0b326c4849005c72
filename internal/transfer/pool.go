package transfer

import "sync"

// Buffer size buckets for chunked transfer I/O, adapted from the
// teacher's queue.BufferPool: power-of-2 size-bucketed sync.Pool
// instances with the pointer-to-slice pattern that avoids a sync.Pool
// interface-boxing allocation per Get/Put. The bucket sizes themselves
// are new, centered on constants.DefaultChunkSize rather than the
// teacher's mmap-complementary 128KB-1MB range.
const (
	size64k  = 64 * 1024
	size128k = 128 * 1024
	size256k = 256 * 1024
	size512k = 512 * 1024
)

var bufferPool = struct {
	pool64k  sync.Pool
	pool128k sync.Pool
	pool256k sync.Pool
	pool512k sync.Pool
}{
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool512k: sync.Pool{New: func() any { b := make([]byte, size512k); return &b }},
}

// getBuffer returns a pooled buffer of at least size bytes. Callers
// must call putBuffer when done with it.
func getBuffer(size int) []byte {
	switch {
	case size <= size64k:
		return (*bufferPool.pool64k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*bufferPool.pool128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*bufferPool.pool256k.Get().(*[]byte))[:size]
	default:
		return (*bufferPool.pool512k.Get().(*[]byte))[:size]
	}
}

// putBuffer returns buf to its size bucket. Buffers with a capacity
// that doesn't match a bucket exactly are dropped for GC rather than
// pooled, same as the teacher's PutBuffer.
func putBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size64k:
		bufferPool.pool64k.Put(&buf)
	case size128k:
		bufferPool.pool128k.Put(&buf)
	case size256k:
		bufferPool.pool256k.Put(&buf)
	case size512k:
		bufferPool.pool512k.Put(&buf)
	}
}
