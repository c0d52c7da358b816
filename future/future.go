// Package future provides the resolve/reject rendezvous every RequestEntry
// and connect attempt is tied to. It is channel-based the way
// NodeCall/NodeCallName rendezvous on a `Ch chan interface{}`
// (kernel/type.go) to pair a call with its eventual result across
// goroutines; this module generalizes that single rendezvous channel into
// a typed Future/Promise pair so callers don't need an interface{} cast at
// the receiving end.
package future

import "context"

type result[T any] struct {
	val T
	err error
}

// Future is the read side of a Promise. A Future resolves or rejects
// exactly once; Wait blocks until then or until ctx is done.
type Future[T any] struct {
	ch chan result[T]
}

// Promise is the write side of a Future. Resolve and Reject are mutually
// exclusive and each may be called at most once; a second call on either
// is a no-op since the channel send would otherwise deadlock a Promise
// nobody reads from twice.
type Promise[T any] struct {
	ch   chan result[T]
	done bool
}

// New creates a linked Promise/Future pair.
func New[T any]() (*Promise[T], *Future[T]) {
	ch := make(chan result[T], 1)
	return &Promise[T]{ch: ch}, &Future[T]{ch: ch}
}

// Resolve completes the linked Future successfully.
func (p *Promise[T]) Resolve(val T) {
	if p.done {
		return
	}
	p.done = true
	p.ch <- result[T]{val: val}
}

// Reject completes the linked Future with an error.
func (p *Promise[T]) Reject(err error) {
	if p.done {
		return
	}
	p.done = true
	p.ch <- result[T]{err: err}
}

// Wait blocks until the Future resolves, rejects, or ctx is done, whichever
// comes first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-f.ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
