// Package bpool is a size-classed buffer pool for the bytes a Transport
// reads off the wire in its incoming path. Buffers under a Pool's
// configured ceiling are reused out of one of its power-of-two size
// classes; anything at or above that is allocated directly, since reuse
// stops paying for itself once a single response no longer fits in the
// largest class.
package bpool

import (
	"io"
	"math/bits"
	"sync"
)

const minSize = 32

// Pool is a set of power-of-two size-classed sync.Pools, growing up to a
// configured ceiling. Each Transport owns its own Pool, sized from its
// own ReadBufferSize, rather than sharing one process-wide pool whose
// ceiling is fixed regardless of how a caller configures reads.
type Pool struct {
	classes []sync.Pool
	max     int
}

// NewPool builds a Pool whose largest size class covers at least max,
// rounded up to a power of two (and never smaller than minSize).
func NewPool(max int) *Pool {
	if max < minSize {
		max = minSize
	}
	p := &Pool{max: max}
	n := p.classIndex(max) + 1
	p.classes = make([]sync.Pool, n)
	for i := range p.classes {
		size := minSize << i
		idx := i
		owner := p
		p.classes[i].New = func() interface{} {
			return &Buff{pool: owner, poolIdx: int8(idx), b: make([]byte, size)}
		}
	}
	return p
}

type Buff struct {
	b       []byte
	pool    *Pool
	poolIdx int8
}

// New returns a Buff holding at least size bytes, reused out of p's size
// classes when size fits under p.max, or freshly allocated otherwise.
func (p *Pool) New(size int) *Buff {
	if size >= p.max {
		return &Buff{pool: p, poolIdx: -1, b: make([]byte, 0, size)}
	}
	idx := p.classIndex(size)
	buf := p.classes[idx].Get().(*Buff)
	buf.b = buf.b[0:0]
	return buf
}

func (p *Pool) NewBuf(buf []byte) *Buff {
	size := len(buf)
	b := p.New(size)
	b.b = b.b[:size]
	copy(b.b, buf)
	return b
}

func (p *Pool) classIndex(size int) int {
	if size < minSize {
		return 0
	}
	return bits.Len32(uint32(size-1)) - 5
}

// Free returns the buffer to its size class. The buffer must not be used
// again afterward.
func (b *Buff) Free() {
	if b.poolIdx < 0 {
		return
	}
	b.pool.classes[b.poolIdx].Put(b)
}

func (b *Buff) Size() int {
	return len(b.b)
}

func (b *Buff) Cap() int {
	return cap(b.b)
}

func (b *Buff) Reset() {
	b.b = b.b[0:0]
}

func (b *Buff) Read(r io.Reader, size int) (n int, err error) {
	if cap(b.b) < size {
		return 0, io.ErrShortBuffer
	}
	b.b = b.b[0:size]
	for n < size && err == nil {
		var nn int
		nn, err = r.Read(b.b[n:])
		n += nn
	}
	if n >= size {
		err = nil
	} else if n > 0 && err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return
}

func (b *Buff) Append(buf ...byte) *Buff {
	totalSize := len(buf) + b.Size()
	if totalSize > b.Cap() {
		newCache := b.pool.New(totalSize)
		newCache = newCache.Append(b.b...).Append(buf...)
		b.Free()
		return newCache
	}
	b.b = append(b.b, buf...)
	return b
}

func (b *Buff) ToBytes() []byte {
	return b.b
}

func (b *Buff) Copy() (buf []byte) {
	return append(buf, b.b...)
}

func (b *Buff) SetSize(size int) {
	b.b = b.b[:size]
}
