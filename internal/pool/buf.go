// Package pool provides sync.Pool-backed buffer reuse for the UDP hot
// path, adapted from mosdns's message and timer pools so per-query
// allocations stay off the fast path.
package pool

import "sync"

var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

// Buf is a pooled byte slice. Callers must call Release exactly once
// when done; after Release, the caller must not touch Bytes() again.
type Buf struct {
	b *[]byte
}

// GetBuf returns a Buf with at least size capacity, len set to size.
func GetBuf(size int) *Buf {
	p := bufPool.Get().(*[]byte)
	if cap(*p) < size {
		*p = make([]byte, size)
	} else {
		*p = (*p)[:size]
	}
	return &Buf{b: p}
}

func (buf *Buf) Bytes() []byte {
	return *buf.b
}

func (buf *Buf) Release() {
	if buf.b == nil {
		return
	}
	*buf.b = (*buf.b)[:0]
	bufPool.Put(buf.b)
	buf.b = nil
}
