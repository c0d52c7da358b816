package pistache

import "testing"

func TestPickLeasesDistinctConnections(t *testing.T) {
	p := newConnectionPool(2, false)
	a := p.pick("example.org", "example.org")
	b := p.pick("example.org", "example.org")
	if a == nil || b == nil {
		t.Fatal("expected two leases from a pool of size 2")
	}
	if a == b {
		t.Fatal("pick returned the same connection twice")
	}
	if p.pick("example.org", "example.org") != nil {
		t.Fatal("expected pick to fail once the pool is exhausted")
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	p := newConnectionPool(1, false)
	a := p.pick("example.org", "example.org")
	if a == nil {
		t.Fatal("expected a lease")
	}
	if p.pick("example.org", "example.org") != nil {
		t.Fatal("pool of size 1 should be exhausted after one pick")
	}
	p.release(a)
	if p.pick("example.org", "example.org") != a {
		t.Fatal("expected release to make the same connection available again")
	}
}

func TestUsedAndIdleCounts(t *testing.T) {
	p := newConnectionPool(3, false)
	p.pick("example.org", "example.org")
	p.pick("example.org", "example.org")
	if got := p.usedCount("example.org", "example.org"); got != 2 {
		t.Fatalf("usedCount = %d, want 2", got)
	}
	if got := p.idleCount("example.org", "example.org"); got != 1 {
		t.Fatalf("idleCount = %d, want 1", got)
	}
	if got := p.availableConnections("example.org", "example.org"); got != 1 {
		t.Fatalf("availableConnections = %d, want 1", got)
	}
}

func TestHostsAreIndependent(t *testing.T) {
	p := newConnectionPool(1, false)
	a := p.pick("a.example.org", "a.example.org")
	b := p.pick("b.example.org", "b.example.org")
	if a == nil || b == nil {
		t.Fatal("expected independent leases across hosts")
	}
}

func TestDistinctPortsOnSameHostDoNotSharePool(t *testing.T) {
	p := newConnectionPool(1, false)
	a := p.pick("example.org:80", "example.org")
	b := p.pick("example.org:8080", "example.org")
	if a == nil || b == nil {
		t.Fatal("expected independent leases for distinct host:port keys")
	}
	if a == b {
		t.Fatal("expected distinct ports on the same hostname to use separate pools")
	}
}

func TestCloseIdleConnectionsSkipsLeased(t *testing.T) {
	p := newConnectionPool(2, false)
	leased := p.pick("example.org", "example.org")
	vec := p.vectorFor("example.org", "example.org")
	var idle *Connection
	for _, c := range vec {
		if c != leased {
			idle = c
		}
	}
	idle.fd = 999999 // sentinel so we can observe close() ran

	p.closeIdleConnections("example.org", "example.org")

	if idle.fd != -1 {
		t.Fatal("expected closeIdleConnections to close the idle connection")
	}
	if leaseState(leased.leaseState.Load()) != leaseUsed {
		t.Fatal("closeIdleConnections must not change leaseState")
	}
}
