package future

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveDeliversValue(t *testing.T) {
	p, f := New[int]()
	p.Resolve(42)
	v, err := f.Wait(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}
}

func TestRejectDeliversError(t *testing.T) {
	p, f := New[int]()
	wantErr := errors.New("boom")
	p.Reject(wantErr)
	_, err := f.Wait(context.Background())
	if err != wantErr {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestSecondCompletionIsNoOp(t *testing.T) {
	p, f := New[int]()
	p.Resolve(1)
	p.Resolve(2)  // must not block or panic
	p.Reject(nil) // must not block or panic
	v, err := f.Wait(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("got (%d, %v), want (1, nil)", v, err)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	_, f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestResolveFromAnotherGoroutine(t *testing.T) {
	p, f := New[string]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.Resolve("done")
	}()
	v, err := f.Wait(context.Background())
	if err != nil || v != "done" {
		t.Fatalf("got (%q, %v), want (\"done\", nil)", v, err)
	}
}
