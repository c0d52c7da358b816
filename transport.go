package pistache

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/lesismal/nbio"
	"github.com/valyala/bytebufferpool"

	"github.com/huangxin96/pistache/bpool"
	"github.com/huangxin96/pistache/future"
	"github.com/huangxin96/pistache/internal/xlog"
	"github.com/huangxin96/pistache/timerpool"
)

// Transport is a reactor handler owning one nbio.Gopher and the fds it is
// mid-connect for. Every Connection state mutation that can be reached
// from more than one goroutine (response bytes, send completion,
// timeouts, hangups) is funneled through mailbox and handled exclusively
// on loop's goroutine, processing events in one pass per readiness batch.
type Transport struct {
	id        int
	gopher    *nbio.Gopher
	timerPool *timerpool.Pool

	mailbox chan interface{}
	stopCh  chan struct{}
	stopped sync.Once

	readBufSize int
	bufPool     *bpool.Pool

	// connections tracks fds still mid-connect, keyed by raw fd. Once
	// adopted by nbio the fd is dropped from this map: steady-state
	// dispatch addresses a Connection through nbio's own per-Conn
	// Session rather than a second fd-keyed map, since nbio already
	// maintains that lookup internally.
	connections map[int]*connectContext

	timeoutsMu sync.Mutex
	timeouts   map[uint64]connHandle
}

type connectContext struct {
	handle  connHandle
	promise *future.Promise[struct{}]
}

type connectQueueMsg struct {
	handle  connHandle
	fd      int
	promise *future.Promise[struct{}]
}

type writableMsg struct{ fd int }

type connectFailedMsg struct {
	fd  int
	err error
}

type incomingMsg struct {
	handle connHandle
	data   []byte
}

type closedMsg struct {
	handle connHandle
	err    error
}

type sendQueueMsg struct {
	handle connHandle
	entry  *requestEntry
	buf    *bytebufferpool.ByteBuffer
}

type timeoutFireMsg struct{ id uint64 }

func newTransport(id int, readBufSize int, timerPool *timerpool.Pool) (*Transport, error) {
	t := &Transport{
		id:          id,
		timerPool:   timerPool,
		mailbox:     make(chan interface{}, 256),
		stopCh:      make(chan struct{}),
		readBufSize: readBufSize,
		// bpool allocates requests at or above its ceiling fresh, so the
		// ceiling sits one past readBufSize for onRead's buffer to be reused.
		bufPool:     bpool.NewPool(readBufSize + 1),
		connections: make(map[int]*connectContext),
		timeouts:    make(map[uint64]connHandle),
	}

	g := nbio.NewGopher(nbio.Config{
		Name:    fmt.Sprintf("pistache-%d", id),
		NPoller: 1,
	})
	g.OnRead(t.onRead)
	g.OnClose(t.onClose)
	if err := g.Start(); err != nil {
		return nil, newError(ProgrammerError, "starting reactor worker", err)
	}
	t.gopher = g

	go t.loop()
	return t, nil
}

func (t *Transport) onRead(c *nbio.Conn) {
	handle, ok := c.Session().(connHandle)
	if !ok {
		return
	}
	buf := t.bufPool.New(t.readBufSize)
	defer buf.Free()
	data := buf.ToBytes()[:t.readBufSize]
	total := 0

	for {
		n, err := c.Read(data[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				break
			}
			if total > 0 {
				t.mailbox <- incomingMsg{handle: handle, data: append([]byte(nil), data[:total]...)}
			}
			t.mailbox <- closedMsg{handle: handle, err: err}
			return
		}
		if n == 0 {
			break
		}
		if total >= len(data) {
			xlog.Errorf("read buffer overflow on transport %d, aborting read loop", t.id)
			break
		}
	}
	if total > 0 {
		t.mailbox <- incomingMsg{handle: handle, data: append([]byte(nil), data[:total]...)}
	}
}

func (t *Transport) onClose(c *nbio.Conn, err error) {
	handle, ok := c.Session().(connHandle)
	if !ok {
		return
	}
	t.mailbox <- closedMsg{handle: handle, err: err}
}

func (t *Transport) loop() {
	for {
		select {
		case msg := <-t.mailbox:
			t.dispatch(msg)
		case <-t.stopCh:
			return
		}
	}
}

func (t *Transport) dispatch(msg interface{}) {
	switch m := msg.(type) {
	case connectQueueMsg:
		t.handleConnectQueue(m)
	case writableMsg:
		t.handleWritable(m)
	case connectFailedMsg:
		if ctx, ok := t.connections[m.fd]; ok {
			delete(t.connections, m.fd)
			ctx.promise.Reject(m.err)
		}
	case incomingMsg:
		if conn, ok := m.handle.upgrade(); ok {
			conn.handleResponsePacket(m.data)
		}
	case closedMsg:
		if conn, ok := m.handle.upgrade(); ok {
			conn.handleError(newError(RecvFailure, "remote closed connection", m.err))
		}
	case sendQueueMsg:
		t.handleSend(m.handle, m.entry, m.buf)
	case timeoutFireMsg:
		t.timeoutsMu.Lock()
		handle, ok := t.timeouts[m.id]
		delete(t.timeouts, m.id)
		t.timeoutsMu.Unlock()
		if !ok {
			return
		}
		if conn, ok := handle.upgrade(); ok {
			conn.handleTimeout()
		}
	}
}

// handleConnectQueue upgrades the weak Connection and remembers the
// pending connect promise, keyed by fd, so the writable or hangup event
// that eventually arrives can resolve it.
func (t *Transport) handleConnectQueue(m connectQueueMsg) {
	if _, ok := m.handle.upgrade(); !ok {
		m.promise.Reject(newError(ConnectFailure, "connection dropped before connect completed", nil))
		return
	}
	t.connections[m.fd] = &connectContext{handle: m.handle, promise: m.promise}
}

// handleWritable upgrades the weak Connection, resolves the connect
// promise, and hands the fd to nbio for steady-state read/write.
func (t *Transport) handleWritable(m writableMsg) {
	ctx, ok := t.connections[m.fd]
	delete(t.connections, m.fd)
	if !ok {
		return
	}
	conn, ok := ctx.handle.upgrade()
	if !ok {
		ctx.promise.Reject(newError(ConnectFailure, "connection dropped before connect completed", nil))
		return
	}

	nbConn, err := adoptConn(m.fd, t.gopher)
	if err != nil {
		ctx.promise.Reject(err)
		return
	}
	nbConn.SetSession(ctx.handle)
	conn.nbConn = nbConn
	conn.localAddr = nbConn.LocalAddr()
	ctx.promise.Resolve(struct{}{})
}

// asyncConnect always queues the connect attempt onto mailbox (there is
// no owning-loop fast path for a brand new fd, since nothing owns it
// yet), then either reports immediate success (connect(2) returned 0
// synchronously) or spins up a dedicated goroutine to wait for
// write-readiness.
func (t *Transport) asyncConnect(handle connHandle, fd int, inProgress bool, dialTimeout time.Duration) *future.Future[struct{}] {
	promise, fut := future.New[struct{}]()
	t.mailbox <- connectQueueMsg{handle: handle, fd: fd, promise: promise}

	if !inProgress {
		t.mailbox <- writableMsg{fd: fd}
		return fut
	}

	go func() {
		if err := awaitWritable(fd, dialTimeout); err != nil {
			t.mailbox <- connectFailedMsg{fd: fd, err: err}
			return
		}
		t.mailbox <- writableMsg{fd: fd}
	}()
	return fut
}

// asyncSendRequest is the cross-thread hand-off: inline when the caller
// already is the owning loop goroutine, queued otherwise. The queued
// path is always correct; the inline path is strictly a hot-path
// shortcut.
func (t *Transport) asyncSendRequest(handle connHandle, entry *requestEntry, buf *bytebufferpool.ByteBuffer, onOwnerLoop bool) {
	if onOwnerLoop {
		t.handleSend(handle, entry, buf)
		return
	}
	t.mailbox <- sendQueueMsg{handle: handle, entry: entry, buf: buf}
}

// handleSend collapses a manual partial-write/EAGAIN retry-and-reregister
// loop down to a single Write call, since nbio.Conn.Write already
// performs that dance internally (see DESIGN.md), leaving this module's
// own send path only one failure mode to handle.
func (t *Transport) handleSend(handle connHandle, entry *requestEntry, buf *bytebufferpool.ByteBuffer) {
	defer bytebufferpool.Put(buf)

	conn, ok := handle.upgrade()
	if !ok {
		t.abandonEntry(entry, newError(SendFailure, "connection dropped before send", nil))
		return
	}
	if _, err := conn.nbConn.Write(buf.Bytes()); err != nil {
		conn.handleError(newError(SendFailure, "send", err))
	}
}

// abandonEntry rejects a requestEntry whose Connection has already been
// dropped, releasing its timer the same way a normal terminal path would.
// Reached either from dispatch's sendQueueMsg branch or from
// asyncSendRequest's inline path, both of which only ever run on t's own
// loop, so t is a faithful answer to onDone's "what loop is this" query.
func (t *Transport) abandonEntry(entry *requestEntry, err error) {
	if entry.timer != nil {
		t.releaseTimeout(entry.timer)
	}
	entry.promise.Reject(err)
	if entry.onDone != nil {
		entry.onDone(t)
	}
}

func (t *Transport) registerTimeout(id uint64, handle connHandle) {
	t.timeoutsMu.Lock()
	t.timeouts[id] = handle
	t.timeoutsMu.Unlock()
}

func (t *Transport) unregisterTimeout(id uint64) {
	t.timeoutsMu.Lock()
	delete(t.timeouts, id)
	t.timeoutsMu.Unlock()
}

// releaseTimeout removes the timeouts-map entry before returning the
// Entry to the pool: the associated timer id must be gone from timeouts
// before it can be reused by the next arm.
func (t *Transport) releaseTimeout(e *timerpool.Entry) {
	t.unregisterTimeout(e.ID())
	t.timerPool.Release(e)
}

func (t *Transport) shutdown() {
	t.stopped.Do(func() {
		t.gopher.Stop()
		close(t.stopCh)
	})
}
