package duplex

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// listenBacklog matches spec.md §4.6 exactly.
const listenBacklog = 1024

// resolveAuthority turns a "host:port" or "[ipv6]:port" authority (spec.md
// §6.3 — no scheme prefix, that's a caller concern) into a list of
// candidate TCP addresses, letting net.ResolveTCPAddr handle bracketed
// IPv6 literals and DNS.
func resolveAuthority(authority string) ([]*net.TCPAddr, error) {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		return nil, fmt.Errorf("duplex: bad authority %q: %w", authority, err)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return nil, err
	}
	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: p})
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("duplex: no addresses for %q", authority)
	}
	return addrs, nil
}

func sockaddrFor(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, unix.AF_INET, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, 0, fmt.Errorf("duplex: unresolvable address %v", addr)
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip6)
	return &sa, unix.AF_INET6, nil
}

// listenTCP resolves authority, iterating candidates until one binds,
// creates a non-blocking, close-on-exec socket, sets SO_REUSEADDR, binds,
// and listens with the spec's fixed backlog.
func listenTCP(authority string) (int, error) {
	addrs, err := resolveAuthority(authority)
	if err != nil {
		return -1, err
	}
	var lastErr error
	for _, addr := range addrs {
		sa, family, err := sockaddrFor(addr)
		if err != nil {
			lastErr = err
			continue
		}
		fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			lastErr = err
			continue
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			lastErr = err
			continue
		}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			lastErr = err
			continue
		}
		if err := unix.Listen(fd, listenBacklog); err != nil {
			unix.Close(fd)
			lastErr = err
			continue
		}
		return fd, nil
	}
	return -1, fmt.Errorf("duplex: listen %q: %w", authority, lastErr)
}

// dialTCP connects to the first reachable candidate address, returning a
// non-blocking, close-on-exec, TCP_NODELAY socket per spec.md §6.1.
func dialTCP(authority string) (int, error) {
	addrs, err := resolveAuthority(authority)
	if err != nil {
		return -1, err
	}
	var lastErr error
	for _, addr := range addrs {
		sa, family, err := sockaddrFor(addr)
		if err != nil {
			lastErr = err
			continue
		}
		fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			lastErr = err
			continue
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			lastErr = err
			continue
		}
		err = unix.Connect(fd, sa)
		if err != nil && err != unix.EINPROGRESS {
			unix.Close(fd)
			lastErr = err
			continue
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			lastErr = err
			continue
		}
		return fd, nil
	}
	return -1, fmt.Errorf("duplex: dial %q: %w", authority, lastErr)
}

// acceptConn accepts one pending connection off a listening fd, applying
// close-on-exec and TCP_NODELAY to the accepted socket (spec.md §4.6, §6.1).
func acceptConn(listenFD int) (int, error) {
	fd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return fd, nil
}

// errWouldBlock reports whether err is one of the transient conditions
// spec.md §7 lists as not-an-error: EAGAIN/EWOULDBLOCK/EINTR.
func errWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

// fdConn is the plaintext "socket handle" a Session reads/writes through
// when it has no TLS handle: a thin, non-blocking wrapper over a raw fd,
// generalizing the teacher's bare syscall.Read/syscall.Write calls
// (server/engine/pool.go, server/engine/write.go) into a reusable type
// shared by both client and server Sessions.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(p []byte) (int, error)  { return unix.Read(c.fd, p) }
func (c *fdConn) Write(p []byte) (int, error) { return unix.Write(c.fd, p) }
func (c *fdConn) Close() error                { return unix.Close(c.fd) }

// ShutdownWrite half-closes the write direction — used by Terminate's
// draining path for H1.1 sessions (spec.md §4.4).
func (c *fdConn) ShutdownWrite() error { return unix.Shutdown(c.fd, unix.SHUT_WR) }

// ShutdownBoth closes both directions — used by Terminate's immediate path.
func (c *fdConn) ShutdownBoth() error { return unix.Shutdown(c.fd, unix.SHUT_RDWR) }
