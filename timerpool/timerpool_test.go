package timerpool

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireFires(t *testing.T) {
	var p Pool
	done := make(chan uint64, 1)
	e := p.Acquire(5*time.Millisecond, func(id uint64) { done <- id })

	select {
	case id := <-done:
		if id != e.ID() {
			t.Fatalf("onFire delivered %d, want %d", id, e.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	p.Release(e)
}

func TestDisarmWinsRace(t *testing.T) {
	var p Pool
	var fired atomic.Bool
	e := p.Acquire(50*time.Millisecond, func(uint64) { fired.Store(true) })
	if !e.Disarm() {
		t.Fatal("Disarm should have won against a timer armed 50ms out")
	}
	p.Release(e)

	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("onFire ran despite Disarm")
	}
}

func TestReuseGetsFreshID(t *testing.T) {
	var p Pool
	e1 := p.Acquire(time.Hour, func(uint64) {})
	id1 := e1.ID()
	p.Release(e1)

	e2 := p.Acquire(time.Hour, func(uint64) {})
	defer p.Release(e2)
	if e2.ID() == id1 {
		t.Fatal("expected a fresh ID after reuse")
	}
}

func TestReleaseAfterFireIsSafe(t *testing.T) {
	var p Pool
	done := make(chan struct{})
	e := p.Acquire(time.Millisecond, func(uint64) { close(done) })
	<-done
	p.Release(e) // must not panic or block after onFire already ran
}
