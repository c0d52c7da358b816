package pistache

import "time"

// Package-level defaults, set at var-init the way kernel/env.go's
// kernel.Env seeds its defaults. Options fields left at their zero
// value pick these up in NewClient.
var (
	DefaultMaxConnectionsPerHost = 8
	DefaultAdmissionQueueSize    = 64
	DefaultReadBufferSize        = 64 * 1024
	DefaultDialTimeout           = 10 * time.Second
	DefaultThreads               = 1
)

// Options configures a Client. The zero value is valid; unset fields fall
// back to the Default* package variables above at NewClient time.
type Options struct {
	// Threads is the number of reactor worker goroutines, each owning
	// its own Transport. Default 1.
	Threads int
	// DisableKeepAlive tears a connection down right after its response
	// resolves instead of returning it to Idle for reuse, and marks
	// every serialized request "Connection: close". The zero value
	// (false) matches the default of always behaving as keep-alive,
	// since connections are reused until error.
	DisableKeepAlive bool
	// MaxConnectionsPerHost bounds the per-host connection pool vector.
	MaxConnectionsPerHost int
	// AdmissionQueueSize bounds the per-host deferred-request queue;
	// pushes past this return a QueueFull error. The admission queue is
	// explicitly bounded but the reference design never names the knob,
	// so this Go-native addition makes it configurable.
	AdmissionQueueSize int
	// ReadBufferSize is the fixed-size buffer Transport.onRead reads into
	// per readiness event.
	ReadBufferSize int
	// DialTimeout bounds how long a non-blocking connect is given to
	// complete before it is treated as a ConnectFailure.
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threads <= 0 {
		o.Threads = DefaultThreads
	}
	if o.MaxConnectionsPerHost <= 0 {
		o.MaxConnectionsPerHost = DefaultMaxConnectionsPerHost
	}
	if o.AdmissionQueueSize <= 0 {
		o.AdmissionQueueSize = DefaultAdmissionQueueSize
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	return o
}
