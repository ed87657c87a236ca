// Package pool provides typed object pools used on the extraction hot
// path: response body buffers in the HTTP client and CSV record slices in
// the sink.
//
// Example usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
//
//	row := pool.GetStrings(len(columns))
//	defer pool.PutStrings(row)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxBufferSize keeps unusually large response buffers out of the pool.
const maxBufferSize = 4 << 20

// Pool is a generic object pool with type safety. It wraps sync.Pool with
// statistics and an optional reset function applied on Put. The pool is
// safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a typed pool. reset, when non-nil, runs before an object is
// returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats describes pool usage.
type Stats struct {
	Allocated int64
	InUse     int64
	Gets      int64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Allocated: atomic.LoadInt64(&p.stats.allocated),
		InUse:     atomic.LoadInt64(&p.stats.inUse),
		Gets:      atomic.LoadInt64(&p.stats.gets),
	}
}

var (
	// BufferPool recycles response body buffers.
	BufferPool = New(
		func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 64<<10)) },
		func(b *bytes.Buffer) { b.Reset() },
	)

	// StringsPool recycles CSV record slices.
	StringsPool = New(
		func() *[]string {
			s := make([]string, 0, 32)
			return &s
		},
		func(s *[]string) {
			clear(*s)
			*s = (*s)[:0]
		},
	)
)

// GetBuffer returns an empty buffer.
func GetBuffer() *bytes.Buffer {
	return BufferPool.Get()
}

// PutBuffer returns buf to the pool unless it grew beyond maxBufferSize.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxBufferSize {
		return
	}
	BufferPool.Put(buf)
}

// GetStrings returns a slice of length n with empty elements.
func GetStrings(n int) *[]string {
	s := StringsPool.Get()
	if cap(*s) < n {
		*s = make([]string, n)
		return s
	}
	*s = (*s)[:n]
	return s
}

// PutStrings returns s to the pool.
func PutStrings(s *[]string) {
	if s == nil {
		return
	}
	StringsPool.Put(s)
}
