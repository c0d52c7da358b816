package pistache

import (
	"math/bits"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/huangxin96/pistache/future"
	"github.com/huangxin96/pistache/ringbuffer"
	"github.com/huangxin96/pistache/timerpool"
	"github.com/huangxin96/pistache/wire"
)

const defaultHTTPPort = 80

// pendingRequest wraps a requestData waiting in a host's admission queue,
// so processRequestQueue can hand it straight to a freshly picked
// Connection once a lease frees up.
type pendingRequest struct {
	data *requestData
}

// Client is the facade that builds requests, picks a pooled Connection,
// round-robins new Connections across reactor worker slots, and routes
// overflow through a per-host admission queue.
type Client struct {
	opts Options
	pool *ConnectionPool

	transports []*Transport
	ioIndex    atomic.Uint32

	queuesLock sync.Mutex
	queues     map[string]*ringbuffer.SingleRingBuffer
	shutdown   bool
}

// NewClient starts one reactor worker (Transport) per opts.Threads and
// returns a ready-to-use Client.
func NewClient(opts Options) (*Client, error) {
	opts = opts.withDefaults()

	timerPool := &timerpool.Pool{}
	transports := make([]*Transport, opts.Threads)
	for i := range transports {
		t, err := newTransport(i, opts.ReadBufferSize, timerPool)
		if err != nil {
			for _, started := range transports[:i] {
				started.shutdown()
			}
			return nil, err
		}
		transports[i] = t
	}

	return &Client{
		opts:       opts,
		pool:       newConnectionPool(opts.MaxConnectionsPerHost, opts.DisableKeepAlive),
		transports: transports,
		queues:     make(map[string]*ringbuffer.SingleRingBuffer),
	}, nil
}

func (c *Client) nextTransport() *Transport {
	n := uint32(len(c.transports))
	i := c.ioIndex.Add(1) % n
	return c.transports[i]
}

// newAdmissionQueue builds a per-host admission queue with room for limit
// entries. ringbuffer.NewSingleRingBuffer requires its size, maxSize and
// limit arguments to all be powers of two and returns nil otherwise, and a
// ring of n slots holds at most n-1 entries, so the ring's own limit is
// the smallest power of two above the configured limit; enqueue enforces
// the configured limit itself. The initial size is separately capped at 8
// and no higher than the ring's limit, so the queue starts small and grows
// into itself by doubling instead of allocating its ceiling up front.
func newAdmissionQueue(limit int) *ringbuffer.SingleRingBuffer {
	roundedLimit := nextPowerOfTwo(limit + 1)
	size := roundedLimit
	if size > 8 {
		size = 8
	}
	return ringbuffer.NewSingleRingBuffer(size, size, roundedLimit)
}

// nextPowerOfTwo rounds n up to the nearest power of two, or 1 if n <= 1.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// hostPort splits a "host" or "host:port" string as produced by
// wire.Split (the ConnectionPool and admission-queue key) into a bare
// hostname for DNS resolution and a numeric port, defaulting to 80 when
// none is given.
func hostPort(raw string) (hostname string, port int) {
	if i := strings.LastIndexByte(raw, ':'); i >= 0 {
		if p, err := strconv.Atoi(raw[i+1:]); err == nil {
			return raw[:i], p
		}
	}
	return raw, defaultHTTPPort
}

// Get, Post, Put, Patch and Delete are convenience constructors for
// RequestBuilder, named after the five methods this module supports.
func (c *Client) Get(resource string) *RequestBuilder    { return newRequestBuilder(c, GET, resource) }
func (c *Client) Post(resource string) *RequestBuilder   { return newRequestBuilder(c, POST, resource) }
func (c *Client) Put(resource string) *RequestBuilder    { return newRequestBuilder(c, PUT, resource) }
func (c *Client) Patch(resource string) *RequestBuilder  { return newRequestBuilder(c, PATCH, resource) }
func (c *Client) Delete(resource string) *RequestBuilder { return newRequestBuilder(c, DELETE, resource) }

// doRequest splits the resource to find the host, picks a pooled
// Connection, then branches on whether that Connection already has a
// Transport and whether it is already connected.
func (c *Client) doRequest(req *Request) *future.Future[*Response] {
	c.queuesLock.Lock()
	down := c.shutdown
	c.queuesLock.Unlock()
	if down {
		promise, fut := future.New[*Response]()
		promise.Reject(newError(ProgrammerError, "doRequest called after Shutdown", nil))
		return fut
	}

	key, _ := wire.Split(req.resource)
	hostname, port := hostPort(key)

	conn := c.pool.pick(key, hostname)
	if conn == nil {
		return c.enqueue(key, req)
	}
	return c.dispatch(key, port, conn, req, req.timeout)
}

// dispatch runs the three success branches for a freshly picked
// Connection: associate a Transport if this is its first lease, then
// either defer through asyncPerform+connect or send immediately through
// perform, depending on link state. key is the ConnectionPool/admission-
// queue key (host[:port]); port is the numeric port connect needs.
func (c *Client) dispatch(key string, port int, conn *Connection, req *Request, timeout time.Duration) *future.Future[*Response] {
	onDone := c.releaseAndDrain(key, conn)

	if !conn.hasTransport() {
		if err := conn.associateTransport(c.nextTransport()); err != nil {
			onDone(nil)
			return rejectedFuture(err)
		}
	}

	if !conn.isConnected() {
		fut := conn.asyncPerform(req, timeout, onDone)
		conn.connect(port, c.opts.DialTimeout)
		return fut
	}

	return conn.perform(req, timeout, onDone, false)
}

// enqueue is the admission-queue overflow path: every pooled Connection
// for key is already leased, so the request waits for one to free up.
func (c *Client) enqueue(key string, req *Request) *future.Future[*Response] {
	promise, fut := future.New[*Response]()
	rd := &requestData{req: req, timeout: req.timeout, promise: promise}

	c.queuesLock.Lock()
	q, ok := c.queues[key]
	if !ok {
		q = newAdmissionQueue(c.opts.AdmissionQueueSize)
		c.queues[key] = q
	}
	ok = q.Size() < c.opts.AdmissionQueueSize && q.Put(&pendingRequest{data: rd})
	c.queuesLock.Unlock()

	if !ok {
		promise.Reject(newError(QueueFull, "admission queue full for "+key, nil))
	}
	return fut
}

// releaseAndDrain builds the onDone closure every success branch passes
// along: release the lease, then drain whatever is waiting in the
// admission queue for this key. onDone's execTransport argument is
// threaded straight through to processRequestQueue, so a drain triggered
// from a Transport's own dispatch loop can tell whether the Connection it
// ends up picking next is owned by that same loop.
func (c *Client) releaseAndDrain(key string, conn *Connection) func(*Transport) {
	return func(execTransport *Transport) {
		c.pool.release(conn)
		c.processRequestQueue(key, execTransport)
	}
}

// processRequestQueue repeatedly picks a Connection and dequeues one
// pending request for key, stopping once either side runs dry. A pick
// that succeeds with nothing left to dequeue releases the connection
// right back before returning. execTransport is the Transport loop this
// call is already running on, or nil if it isn't running on any
// Transport's own loop; it is compared against each picked Connection's
// own Transport to decide whether that Connection's send can run inline
// rather than round-tripping through its mailbox. Without this check, a
// drain triggered from inside a Transport's dispatch (the onDone fired by
// handleResponsePacket/handleError) would otherwise always queue onto
// that same busy mailbox, which can deadlock the loop outright once
// enough idle connections and queued requests line up to fill it.
func (c *Client) processRequestQueue(key string, execTransport *Transport) {
	hostname, port := hostPort(key)
	for {
		conn := c.pool.pick(key, hostname)
		if conn == nil {
			return
		}

		c.queuesLock.Lock()
		q, ok := c.queues[key]
		var v interface{}
		if ok {
			v = q.Pop()
		}
		c.queuesLock.Unlock()

		if v == nil {
			c.pool.release(conn)
			return
		}
		pr := v.(*pendingRequest)
		pr.data.onDone = c.releaseAndDrain(key, conn)

		if !conn.hasTransport() {
			if err := conn.associateTransport(c.nextTransport()); err != nil {
				pr.data.promise.Reject(err)
				pr.data.onDone(execTransport)
				continue
			}
		}

		onOwnerLoop := execTransport != nil && conn.transport.Load() == execTransport

		if !conn.isConnected() {
			conn.localQueueMu.Lock()
			conn.localQueue.Put(pr.data)
			conn.localQueueMu.Unlock()
			conn.connect(port, c.opts.DialTimeout)
			continue
		}

		conn.performImpl(pr.data, onOwnerLoop)
	}
}

// Shutdown stops every reactor worker. In-flight requests already
// dispatched are left to resolve or time out on their own; every call to
// doRequest after Shutdown returns is rejected with ProgrammerError.
func (c *Client) Shutdown() {
	c.queuesLock.Lock()
	c.shutdown = true
	c.queuesLock.Unlock()

	for _, t := range c.transports {
		t.shutdown()
	}
}

func rejectedFuture(err error) *future.Future[*Response] {
	promise, fut := future.New[*Response]()
	promise.Reject(err)
	return fut
}
