// Package timerpool pools the timers a Transport arms against inflight
// requests. Pistache's client multiplexes request timeouts through the
// reactor's own timerfd; nbio's Gopher has no hook for registering an
// arbitrary foreign fd for readiness the way raw epoll does, so a timeout
// here fires directly on a Go runtime timer goroutine instead, the same
// way time.AfterFunc always has. Entry values are reused out of a
// sync.Pool, the same acquire/release shape TheSmallBoat-carlo uses for
// its own *time.Timer pool; each Acquire arms a new time.AfterFunc timer.
package timerpool

import (
	"sync"
	"sync/atomic"
	"time"
)

var nextID uint64

// Entry is a pooled, re-armable timer. The zero value is not usable;
// obtain one from a Pool's Acquire.
type Entry struct {
	id uint64
	t  *time.Timer
}

// ID identifies this Entry for the lifetime of its current arming. Because
// Entries are reused, callers that key a map on it (Transport's
// timer-ID-to-Connection table) must re-key on every Acquire.
func (e *Entry) ID() uint64 { return e.id }

// Disarm cancels the timer before it fires. It reports whether the cancel
// won the race against the fire; false means onFire has already run or is
// running concurrently. Once Disarm returns true, onFire is guaranteed
// never to run for this arming.
func (e *Entry) Disarm() bool {
	return e.t.Stop()
}

// Pool is a set of reusable Entries. The zero value is ready to use.
type Pool struct {
	sp sync.Pool
}

// Acquire arms an Entry that calls onFire with its ID after d elapses,
// unless Disarm wins the race first. onFire runs on a runtime timer
// goroutine, not the caller's, and must not block.
func (p *Pool) Acquire(d time.Duration, onFire func(id uint64)) *Entry {
	var e *Entry
	if v := p.sp.Get(); v != nil {
		e = v.(*Entry)
	} else {
		e = &Entry{}
	}
	e.id = atomic.AddUint64(&nextID, 1)
	id := e.id
	e.t = time.AfterFunc(d, func() { onFire(id) })
	return e
}

// Release disarms e if still armed and returns it to the pool. e must not
// be used again afterward. Unlike Disarm, callers don't need to check the
// return value: whether or not onFire already ran, e is safe to recycle
// since onFire only carries e's id by value, not a reference to e itself.
func (p *Pool) Release(e *Entry) {
	e.t.Stop()
	p.sp.Put(e)
}
