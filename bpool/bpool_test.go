package bpool

import (
	"strings"
	"testing"
)

func TestNewReusesSizeClass(t *testing.T) {
	p := NewPool(64 * 1024)
	b := p.New(100)
	if b.Cap() < 100 {
		t.Fatalf("cap %d < requested 100", b.Cap())
	}
	b.Free()

	b2 := p.New(100)
	if b2.Cap() != b.Cap() {
		t.Fatalf("expected same size class, got cap %d want %d", b2.Cap(), b.Cap())
	}
}

func TestNewBufCopies(t *testing.T) {
	p := NewPool(64 * 1024)
	src := []byte("hello")
	b := p.NewBuf(src)
	defer b.Free()
	src[0] = 'x'
	if string(b.ToBytes()) != "hello" {
		t.Fatalf("NewBuf must copy, got %q", b.ToBytes())
	}
}

func TestAppendGrowsBeyondCap(t *testing.T) {
	p := NewPool(64 * 1024)
	b := p.New(4)
	want := strings.Repeat("abcde", b.Cap()/5+1) // longer than b's size class
	b = b.Append([]byte(want)...)
	if string(b.ToBytes()) != want {
		t.Fatalf("got %q", b.ToBytes())
	}
	b.Free()
}

// TestNewPoolCeilingTracksMax confirms a Pool's ceiling is whatever max
// it was built with, not a fixed constant: a request at or above that
// ceiling always allocates fresh rather than coming from a size class.
func TestNewPoolCeilingTracksMax(t *testing.T) {
	p := NewPool(128)
	below := p.New(127)
	if below.poolIdx < 0 {
		t.Fatalf("expected a request under the pool's ceiling to come from a size class")
	}
	below.Free()

	atCeiling := p.New(128)
	if atCeiling.poolIdx >= 0 {
		t.Fatalf("expected a request at the pool's ceiling to allocate fresh")
	}
}

func BenchmarkNewAndFree(b *testing.B) {
	p := NewPool(64 * 1024)
	for i := 0; i < b.N; i++ {
		buf := p.New(128)
		buf.Free()
	}
}
