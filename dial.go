package pistache

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/lesismal/nbio"
	"golang.org/x/sys/unix"
)

// resolveCandidates mirrors Connection.connect's "resolve host/port to a
// candidate list" step: synchronous address resolution
// returning an iterable of sockaddrs, matching the "Address
// resolution" external interface. No DNS library appears anywhere in the
// example pack, so this stays on net.DefaultResolver (justified in
// DESIGN.md).
func resolveCandidates(host string, port int) ([]unix.Sockaddr, error) {
	ips, err := net.DefaultResolver.LookupIP(context.Background(), "ip", host)
	if err != nil {
		return nil, newError(ConnectFailure, "resolve "+host, err)
	}
	if len(ips) == 0 {
		return nil, newError(ConnectFailure, "no usable address for "+host, nil)
	}
	addrs := make([]unix.Sockaddr, 0, len(ips))
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			sa := &unix.SockaddrInet4{Port: port}
			copy(sa.Addr[:], ip4)
			addrs = append(addrs, sa)
			continue
		}
		if ip16 := ip.To16(); ip16 != nil {
			sa := &unix.SockaddrInet6{Port: port}
			copy(sa.Addr[:], ip16)
			addrs = append(addrs, sa)
		}
	}
	if len(addrs) == 0 {
		return nil, newError(ConnectFailure, "no usable address for "+host, nil)
	}
	return addrs, nil
}

// dialNonBlocking creates a non-blocking STREAM socket and issues
// connect(2) against sa ("create a non-blocking STREAM
// socket"). nbio.Gopher.AddConn only wraps an already-connected net.Conn;
// it has no hook for observing the write-readiness that confirms an
// in-progress connect(2), which is why this dials on the raw
// golang.org/x/sys/unix socket/connect sequence instead of going through
// net.Dial.
func dialNonBlocking(sa unix.Sockaddr) (fd int, inProgress bool, err error) {
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, false, newError(ConnectFailure, "socket", err)
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		closeFD(fd)
		return -1, false, newError(ConnectFailure, "set nonblock", err)
	}
	err = unix.Connect(fd, sa)
	if err == nil {
		return fd, false, nil
	}
	if err == unix.EINPROGRESS {
		return fd, true, nil
	}
	closeFD(fd)
	return -1, false, newError(ConnectFailure, "connect", err)
}

// awaitWritable blocks the calling goroutine — always a dedicated one
// spun up per pending connect, never a Transport's owning loop goroutine —
// until fd becomes writable, hangs up, or timeout elapses. A writable edge
// on a connecting socket can mean either success or a failed connect, so
// it checks SO_ERROR once woken.
func awaitWritable(fd int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return newError(ConnectFailure, "connect timed out", nil)
		}
		ms := int(remaining / time.Millisecond)
		if ms <= 0 {
			ms = 1
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return newError(ConnectFailure, "poll", err)
		}
		if n == 0 {
			return newError(ConnectFailure, "connect timed out", nil)
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return newError(ConnectFailure, "hangup before write-readiness", nil)
		}
		if fds[0].Revents&unix.POLLOUT != 0 {
			break
		}
	}

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return newError(ConnectFailure, "getsockopt(SO_ERROR)", err)
	}
	if errno != 0 {
		return newError(ConnectFailure, "connect", unix.Errno(errno))
	}
	return nil
}

// adoptConn hands an established, already-connected fd to the Transport's
// nbio.Gopher for steady-state multiplexing: the same wrap-an-existing-
// net.Conn idiom gate/nb_conn.go uses for ConnNbio, reached via
// os.NewFile+net.FileConn since fd here is a raw descriptor, not something
// net.Dial produced.
func adoptConn(fd int, g *nbio.Gopher) (*nbio.Conn, error) {
	f := os.NewFile(uintptr(fd), "")
	netConn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, newError(ConnectFailure, "FileConn", err)
	}
	nbConn, err := g.AddConn(netConn)
	if err != nil {
		return nil, newError(ConnectFailure, "AddConn", err)
	}
	return nbConn, nil
}

func closeFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
