package duplex

import (
	"time"

	"golang.org/x/sys/unix"
)

// tickTimeout bounds every readiness wait, per spec.md §4.1: ticks are
// always bounded so timed termination can proceed even with no I/O.
const tickTimeout = 100 * time.Millisecond

// poller wraps golang.org/x/sys/unix epoll — the ecosystem-idiomatic way
// the rest of the retrieved corpus reaches for raw socket/epoll primitives
// (x/sys appears across the pack's indirect dependency graph) rather than
// calling into the bare, architecture-specific "syscall" package the
// teacher uses directly.
type poller struct {
	fd     int
	events []unix.EpollEvent
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{fd: fd, events: make([]unix.EpollEvent, 128)}, nil
}

func pollFlags(readable, writable bool) uint32 {
	var ev uint32
	if readable {
		ev |= unix.EPOLLIN
	}
	if writable {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *poller) add(fd int, readable, writable bool) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: pollFlags(readable, writable),
		Fd:     int32(fd),
	})
}

func (p *poller) modify(fd int, readable, writable bool) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: pollFlags(readable, writable),
		Fd:     int32(fd),
	})
}

func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for at most tickTimeout and returns the ready events.
// EINTR is swallowed here (spec.md §4.1: "EINTR ... transient ... not
// errors"), surfacing as an empty, non-error event set.
func (p *poller) wait() ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.fd, p.events, int(tickTimeout/time.Millisecond))
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.events[:n], nil
}

func (p *poller) close() error { return unix.Close(p.fd) }
