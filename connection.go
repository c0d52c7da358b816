package pistache

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lesismal/nbio"

	"github.com/huangxin96/pistache/future"
	"github.com/huangxin96/pistache/internal/xlog"
	"github.com/huangxin96/pistache/respparse"
	"github.com/huangxin96/pistache/ringbuffer"
	"github.com/huangxin96/pistache/timerpool"
	"github.com/huangxin96/pistache/wire"
)

type leaseState int32

const (
	leaseIdle leaseState = iota
	leaseUsed
)

type linkState int32

const (
	linkNotConnected linkState = iota
	linkConnecting
	linkConnected
)

// requestData is a caller's request snapshot: captured on whichever
// goroutine calls Connection.perform/asyncPerform, consumed on whichever
// goroutine ends up running performImpl (a Transport's loop when an
// admission-queue drain runs there, the goroutine waiting on connect when
// localQueue drains, or the original caller on the direct-perform path).
// onDone's argument is the Transport the caller is currently running on,
// or nil when the caller cannot claim any particular Transport's loop;
// processRequestQueue uses it to tell whether the Connection it picks
// next is owned by that same loop before deciding to send inline.
type requestData struct {
	req     *Request
	timeout time.Duration
	promise *future.Promise[*Response]
	onDone  func(execTransport *Transport)
}

// requestEntry is a requestData after it has begun send: an in-flight
// RequestData projected after serialization. It owns the timer handle
// and fires onDone exactly once on terminal resolution.
type requestEntry struct {
	promise *future.Promise[*Response]
	timer   *timerpool.Entry
	onDone  func(execTransport *Transport)
}

// connHandle is this module's rendering of a weak reference: a
// (*Connection, epoch) pair. upgrade fails once the Connection's epoch has
// moved past the captured value, i.e. the Connection was closed since the
// handle was taken. Go 1.21 predates the `weak` package, so this is the
// epoch/generation-counter substitute for std::weak_ptr::lock().
type connHandle struct {
	c     *Connection
	epoch uint64
}

func (h connHandle) upgrade() (*Connection, bool) {
	if h.c == nil || h.c.epoch.Load() != h.epoch {
		return nil, false
	}
	return h.c, true
}

// Connection owns one socket, one parser, at most one in-flight
// requestEntry, and a local overflow queue of requestData awaiting
// dispatch while the socket is still connecting.
type Connection struct {
	host string
	pool *ConnectionPool

	leaseState atomic.Int32
	linkState  atomic.Int32
	epoch      atomic.Uint64

	transport atomic.Pointer[Transport]

	fd        int
	nbConn    *nbio.Conn
	localAddr net.Addr

	// parser is touched only from the owning Transport's loop goroutine
	// (every call site is inside Transport.dispatch), so it needs no
	// lock of its own.
	parser respparse.Parser

	inflightMu sync.Mutex
	inflight   *requestEntry

	localQueueMu sync.Mutex
	localQueue   *ringbuffer.SingleRingBuffer
}

func newConnection(host string, pool *ConnectionPool) *Connection {
	return &Connection{
		host:       host,
		pool:       pool,
		fd:         -1,
		localQueue: ringbuffer.NewSingleRingBuffer(8, 8, 0),
	}
}

func (c *Connection) handle() connHandle {
	return connHandle{c: c, epoch: c.epoch.Load()}
}

// associateTransport is one-shot; a second attempt is a
// programmer error, not a silent no-op.
func (c *Connection) associateTransport(t *Transport) error {
	if !c.transport.CompareAndSwap(nil, t) {
		return newError(ProgrammerError, "connection already associated with a transport", nil)
	}
	return nil
}

func (c *Connection) hasTransport() bool {
	return c.transport.Load() != nil
}

func (c *Connection) isConnected() bool {
	return linkState(c.linkState.Load()) == linkConnected
}

// connect resolves host/port, then dials candidates in order until one
// yields a socket, skipping past a candidate that fails at the
// socket/connect-setup step (e.g. an IPv6 candidate on a IPv4-only host)
// rather than giving up on the first one. The eventual connect success
// transitions linkState to Connected and drains localQueue; exhausting
// every candidate fails every request waiting there instead.
func (c *Connection) connect(port int, dialTimeout time.Duration) error {
	c.linkState.Store(int32(linkConnecting))

	addrs, err := resolveCandidates(c.host, port)
	if err != nil {
		c.failLocalQueue(err)
		return err
	}

	var fd int
	var inProgress bool
	for _, addr := range addrs {
		fd, inProgress, err = dialNonBlocking(addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		c.failLocalQueue(err)
		return err
	}
	c.fd = fd

	t := c.transport.Load()
	if t == nil {
		closeFD(fd)
		err := newError(ProgrammerError, "connect called before associateTransport", nil)
		c.failLocalQueue(err)
		return err
	}

	fut := t.asyncConnect(c.handle(), fd, inProgress, dialTimeout)
	go func() {
		_, err := fut.Wait(context.Background())
		if err != nil {
			xlog.Errorf("connect to %s failed: %v", c.host, err)
			c.failLocalQueue(err)
			c.close()
			return
		}
		c.linkState.Store(int32(linkConnected))
		c.drainLocalQueue()
	}()
	return nil
}

// perform is the immediate path: serialize and send right away. The
// caller must already know the connection is leased and connected.
func (c *Connection) perform(req *Request, timeout time.Duration, onDone func(*Transport), onOwnerLoop bool) *future.Future[*Response] {
	promise, fut := future.New[*Response]()
	c.performImpl(&requestData{req: req, timeout: timeout, promise: promise, onDone: onDone}, onOwnerLoop)
	return fut
}

// asyncPerform is the deferred path: enqueue onto localQueue. Draining
// happens once the connect future this call is racing against resolves.
func (c *Connection) asyncPerform(req *Request, timeout time.Duration, onDone func(*Transport)) *future.Future[*Response] {
	promise, fut := future.New[*Response]()
	rd := &requestData{req: req, timeout: timeout, promise: promise, onDone: onDone}

	c.localQueueMu.Lock()
	ok := c.localQueue.Put(rd)
	c.localQueueMu.Unlock()

	if !ok {
		promise.Reject(newError(QueueFull, "local queue full for "+c.host, nil))
		if onDone != nil {
			onDone(nil)
		}
	}
	return fut
}

func (c *Connection) drainLocalQueue() {
	for {
		c.localQueueMu.Lock()
		v := c.localQueue.Pop()
		c.localQueueMu.Unlock()
		if v == nil {
			return
		}
		c.performImpl(v.(*requestData), false)
	}
}

func (c *Connection) failLocalQueue(err error) {
	for {
		c.localQueueMu.Lock()
		v := c.localQueue.Pop()
		c.localQueueMu.Unlock()
		if v == nil {
			return
		}
		rd := v.(*requestData)
		rd.promise.Reject(err)
		if rd.onDone != nil {
			rd.onDone(nil)
		}
	}
}

// performImpl is the one path perform/asyncPerform's drain both funnel
// through: precondition inflight == nil, serialize, optionally arm a
// timer, install the requestEntry, hand the wire buffer to
// Transport.asyncSendRequest.
func (c *Connection) performImpl(rd *requestData, onOwnerLoop bool) {
	c.inflightMu.Lock()
	if c.inflight != nil {
		c.inflightMu.Unlock()
		rd.promise.Reject(newError(ProgrammerError, "performImpl called with a request already inflight", nil))
		if rd.onDone != nil {
			rd.onDone(nil)
		}
		return
	}

	t := c.transport.Load()
	msg := rd.req.toMessage(!c.pool.disableKeepAlive)
	buf := wire.Serialize(msg)

	var timer *timerpool.Entry
	if rd.timeout > 0 {
		handle := c.handle()
		timer = t.timerPool.Acquire(rd.timeout, func(id uint64) {
			t.mailbox <- timeoutFireMsg{id: id}
		})
		t.registerTimeout(timer.ID(), handle)
	}

	entry := &requestEntry{promise: rd.promise, timer: timer, onDone: rd.onDone}
	c.inflight = entry
	c.inflightMu.Unlock()

	t.asyncSendRequest(c.handle(), entry, buf, onOwnerLoop)
}

// handleResponsePacket feeds bytes to the parser; once the parser reaches
// Done, it resolves the in-flight entry and fires onDone last, so a
// re-entrant perform (onDone releasing the pool lease and immediately
// dispatching a queued request) observes the connection as free. This is
// only ever reached from the owning Transport's dispatch loop (an
// incomingMsg is only ever posted by that same Transport's onRead), so
// c.transport.Load() is a faithful answer to "what loop is onDone running
// on" rather than a guess.
func (c *Connection) handleResponsePacket(data []byte) {
	status, err := c.parser.Feed(data)
	if err != nil {
		c.handleError(newError(ParseError, "parsing response", err))
		return
	}
	if status != respparse.Done {
		return
	}
	parsed := c.parser.Response()
	c.parser.Reset()

	c.inflightMu.Lock()
	entry := c.inflight
	c.inflight = nil
	c.inflightMu.Unlock()
	if entry == nil {
		xlog.Errorf("response completed on %s with no inflight request", c.host)
		return
	}

	if entry.timer != nil {
		c.transport.Load().releaseTimeout(entry.timer)
	}

	entry.promise.Resolve(responseFromParsed(parsed))
	if c.pool.disableKeepAlive {
		c.close()
	}
	if entry.onDone != nil {
		entry.onDone(c.transport.Load())
	}
}

// handleError rejects the in-flight entry, if any, and always closes the
// connection: every I/O error is terminal for both the request and the
// socket. Like handleResponsePacket, this only ever runs on the owning
// Transport's dispatch loop.
func (c *Connection) handleError(err error) {
	c.inflightMu.Lock()
	entry := c.inflight
	c.inflight = nil
	c.inflightMu.Unlock()

	t := c.transport.Load()
	if entry != nil {
		if entry.timer != nil {
			t.releaseTimeout(entry.timer)
		}
		entry.promise.Reject(err)
	}
	c.close()
	if entry != nil && entry.onDone != nil {
		entry.onDone(t)
	}
}

func (c *Connection) handleTimeout() {
	c.handleError(newError(Timeout, "request timed out", nil))
}

// close tears the socket down and bumps epoch so every outstanding
// connHandle referencing this Connection fails to upgrade from here on.
// leaseState is untouched: closing is not leasing, matching
// closeIdleConnections's semantics.
func (c *Connection) close() {
	c.linkState.Store(int32(linkNotConnected))
	c.epoch.Add(1)
	if c.nbConn != nil {
		c.nbConn.Close()
		c.nbConn = nil
	} else if c.fd >= 0 {
		closeFD(c.fd)
	}
	c.fd = -1
}
