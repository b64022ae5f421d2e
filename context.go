package duplex

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/s00inx/duplex/internal/dlog"
)

// Context is the top-level engine instance: it owns every Listener, Peer,
// and Session, drives the bounded-tick readiness loop, and is the only
// thing in this package a caller drives directly from a goroutine
// (spec.md §4.1 — single cooperative loop per Context, no per-connection
// goroutines).
type Context struct {
	mu sync.Mutex

	poll *poller

	listeners []*Listener
	peers     []*Peer
	sessions  map[int]*Session // plaintext sessions keyed by fd; TLS sessions are never in this map
	tlsOnly   []*Session       // always-polled group: TLS sessions aren't registered with poll (see tlsconn.go); each gets a negative synthetic id as its fd

	nextTLSID int

	logger *dlog.Logger

	protoPref Protocol // default protocol preference for new client sessions without explicit ALPN

	stopping bool
	stopped  chan struct{}
}

// NewContext allocates a Context with its own epoll instance and logger.
// The logger writes to stderr.
func NewContext() (*Context, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("duplex: new context: %w", err)
	}
	return &Context{
		poll:      p,
		sessions:  make(map[int]*Session),
		logger:    dlog.New(nil),
		protoPref: ProtoH1,
		stopped:   make(chan struct{}),
	}, nil
}

// SetProtocolPreference sets which protocol newly dialed client sessions
// assume absent an explicit per-call override (spec.md §6.1).
func (c *Context) SetProtocolPreference(p Protocol) { c.protoPref = p }

// SetVerbose toggles the internal debug logger (spec.md §4.9).
func (c *Context) SetVerbose(v bool) { c.logger.SetVerbose(v) }

// Logger exposes the Context's internal logger to sibling files
// (listener.go, peer.go) without making it part of the public API surface.
func (c *Context) Logger() *dlog.Logger { return c.logger }

func (c *Context) addSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.isTLS {
		c.nextTLSID--
		s.fd = c.nextTLSID
		c.tlsOnly = append(c.tlsOnly, s)
		return
	}
	c.sessions[s.fd] = s
	c.poll.add(s.fd, s.wantsRead(), s.wantsWrite())
}

func (c *Context) removeSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.isTLS {
		for i, t := range c.tlsOnly {
			if t == s {
				c.tlsOnly = append(c.tlsOnly[:i], c.tlsOnly[i+1:]...)
				break
			}
		}
		return
	}
	delete(c.sessions, s.fd)
	c.poll.remove(s.fd)
}

func (c *Context) addListener(l *Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
	c.poll.add(l.fd, true, false)
}

func (c *Context) addPeer(p *Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = append(c.peers, p)
}

// Run drives the readiness loop until Stop is called. Each tick: accept
// pending connections on every Listener, service ready plaintext fds per
// epoll, then probe every TLS session unconditionally (it isn't part of
// epoll's interest set — see tlsconn.go), recompute each serviced
// session's interest, and repeat, bounded to tickTimeout per spec.md §4.1.
func (c *Context) Run() error {
	defer close(c.stopped)
	for {
		c.mu.Lock()
		stopping := c.stopping
		c.mu.Unlock()
		if stopping {
			return nil
		}

		events, err := c.poll.wait()
		if err != nil {
			return fmt.Errorf("duplex: poll: %w", err)
		}

		for _, ev := range events {
			fd := int(ev.Fd)
			c.mu.Lock()
			var l *Listener
			for _, cand := range c.listeners {
				if cand.fd == fd {
					l = cand
					break
				}
			}
			s := c.sessions[fd]
			c.mu.Unlock()

			switch {
			case l != nil:
				c.acceptOne(l)
			case s != nil:
				c.service(s, ev.Events&unix.EPOLLIN != 0, ev.Events&unix.EPOLLOUT != 0)
			}
		}

		c.mu.Lock()
		tlsSessions := append([]*Session(nil), c.tlsOnly...)
		c.mu.Unlock()
		for _, s := range tlsSessions {
			c.service(s, true, true)
		}

		c.mu.Lock()
		for _, p := range c.peers {
			p.tick()
		}
		c.mu.Unlock()
	}
}

func (c *Context) acceptOne(l *Listener) {
	for {
		fd, err := acceptConn(l.fd)
		if err != nil {
			if !errWouldBlock(err) {
				c.logger.Errorf(l.authority, "accept: %v", err)
			}
			return
		}
		l.handleAccept(c, fd)
	}
}

// service runs one session's receive/send steps and reconciles its epoll
// interest afterward, freeing it if either step reported a fatal reason.
func (c *Context) service(s *Session, readable, writable bool) {
	var reason CloseReason
	var err error

	if readable && s.wantsRead() {
		reason, err = s.receive()
	}
	if err == nil && (writable || s.sendPending) {
		reason, err = s.send()
	}
	if err != nil {
		s.free(reason)
		return
	}
	if s.closing == stateTerminated && s.wb.Idle() {
		s.free("")
		return
	}
	wantRead, wantWrite := s.wantsRead(), s.wantsWrite()
	if !wantRead && !wantWrite {
		// Neither the codec nor the write path want anything more: spec.md
		// §4.1/§4.2's end-of-protocol closure, so this fd doesn't leak with
		// zero epoll interest forever.
		if s.proto == ProtoH2 {
			s.free(ByNghttp2End)
		} else {
			s.free(ByHTTPEnd)
		}
		return
	}
	if !s.isTLS {
		c.mu.Lock()
		c.poll.modify(s.fd, wantRead, wantWrite)
		c.mu.Unlock()
	}
}

// Stop requests the loop exit at the start of its next tick and blocks
// until Run has returned.
func (c *Context) Stop() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	<-c.stopped
}

// Free releases the Context's own resources (epoll fd, logger). Call only
// after Run has returned.
func (c *Context) Free() {
	c.poll.close()
	c.logger.Close()
}
