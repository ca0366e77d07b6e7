package proxy

import "sync"

// relayChunkSize is the largest single read a relay direction performs.
const relayChunkSize = 4 << 10

var relayBuffers = NewBufferPool(relayChunkSize)

// BufferPool hands out fixed-size byte slices for relaying and request
// reads. Slices returned by Get always have the pool's size.
type BufferPool struct {
	size int
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *BufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Slices of the wrong size are dropped.
func (p *BufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
