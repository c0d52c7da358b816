package pistache

import "sync"

// ConnectionPool owns, per host, a fixed-size vector of Connections and
// leases them out via atomic CAS on each Connection's leaseState. The
// pool is the sole strong owner of every Connection it hands out;
// Transport and the timeout table only ever hold weak connHandles.
type ConnectionPool struct {
	mu   sync.Mutex
	vecs map[string][]*Connection

	maxPerHost       int
	disableKeepAlive bool
}

func newConnectionPool(maxPerHost int, disableKeepAlive bool) *ConnectionPool {
	return &ConnectionPool{
		vecs:             make(map[string][]*Connection),
		maxPerHost:       maxPerHost,
		disableKeepAlive: disableKeepAlive,
	}
}

// vectorFor returns key's connection vector, lazily creating maxPerHost
// fresh, unleased Connections on first touch. hostname is only consulted
// on that first touch, to give each new Connection the bare hostname DNS
// resolution needs; key is whatever the caller wants distinct pools for
// (e.g. "host:port", so two ports on the same host never share sockets).
// The map itself is guarded by mu; the Connections it holds are safe for
// lock-free concurrent leasing once obtained.
func (p *ConnectionPool) vectorFor(key, hostname string) []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vecs[key]
	if !ok {
		v = make([]*Connection, p.maxPerHost)
		for i := range v {
			v[i] = newConnection(hostname, p)
		}
		p.vecs[key] = v
	}
	return v
}

// pick scans key's vector for the first Connection it can CAS from Idle
// to Used, returning nil if every slot is already leased.
func (p *ConnectionPool) pick(key, hostname string) *Connection {
	for _, c := range p.vectorFor(key, hostname) {
		if c.leaseState.CompareAndSwap(int32(leaseIdle), int32(leaseUsed)) {
			return c
		}
	}
	return nil
}

// release returns conn to Idle. Only the connection's current holder may
// call this; it is a plain store, not a CAS.
func (p *ConnectionPool) release(conn *Connection) {
	conn.leaseState.Store(int32(leaseIdle))
}

func (p *ConnectionPool) usedCount(key, hostname string) int {
	n := 0
	for _, c := range p.vectorFor(key, hostname) {
		if leaseState(c.leaseState.Load()) == leaseUsed {
			n++
		}
	}
	return n
}

func (p *ConnectionPool) idleCount(key, hostname string) int {
	return len(p.vectorFor(key, hostname)) - p.usedCount(key, hostname)
}

// availableConnections reports how many additional leases key could
// still grant right now — the slots a new pick could still win. It is
// implemented here as idleCount under another name, matching the
// reference library's own definition.
func (p *ConnectionPool) availableConnections(key, hostname string) int {
	return p.idleCount(key, hostname)
}

// closeIdleConnections closes every Connection in key's vector that is
// not currently leased. leaseState is left untouched: closing a
// connection is not the same as leasing it, so a pick racing this call
// either wins an Idle slot pointing at an already-closed socket (and
// redials on its next connect) or is unaffected.
func (p *ConnectionPool) closeIdleConnections(key, hostname string) {
	for _, c := range p.vectorFor(key, hostname) {
		if leaseState(c.leaseState.Load()) == leaseIdle {
			c.close()
		}
	}
}
