package duplex

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/s00inx/duplex/message"
)

// PeerSettings mirrors the HTTP/2 SETTINGS knobs a Peer submits on every
// session it opens, spec.md §4.7. Each field -1 means "do not send this
// parameter"; they're ignored entirely for H1 sessions.
type PeerSettings struct {
	HeaderTableSize       int64
	EnablePush            int64
	MaxConcurrentStreams  int64
	InitialWindowSize     int64
	MaxFrameSize          int64
	MaxHeaderListSize     int64
	EnableConnectProtocol int64
}

// DefaultPeerSettings leaves every SETTINGS parameter at the codec's own
// default (nothing sent).
func DefaultPeerSettings() PeerSettings {
	return PeerSettings{-1, -1, -1, -1, -1, -1, -1}
}

// PeerOpts configures Connect.
type PeerOpts struct {
	Authority string
	TLSConfig *tls.Config // nil for plaintext
	WantH2    bool        // advertise "h2" via ALPN when TLSConfig is set; plaintext peers default to the Context's protocol preference
	Sessions  int         // N parallel sessions to open, spec.md §4.7 ("pool size")
	ReqThresh int64       // proactive reconnect after this many requests on a slot; 0 disables rotation

	Settings PeerSettings

	OnResponse ResponseFunc
	FreeSess   SessionFreeFunc
	FreePeer   PeerFreeFunc
	UserData   any
}

// peerSlot is one of a Peer's N parallel sessions.
type peerSlot struct {
	sess    *Session
	reqSent int64
}

// Peer is a pool of N parallel Sessions to one authority, round-robined
// for outbound requests with proactive reconnect once a slot's request
// count crosses ReqThresh, per spec.md §4.7.
type Peer struct {
	ctx *Context

	mu    sync.Mutex
	slots []*peerSlot
	next  int // round-robin cursor

	opts PeerOpts

	terminating bool
	logID       string
}

// Connect dials opts.Sessions parallel connections to opts.Authority
// concurrently (via errgroup, aggregating failures) and returns a Peer
// once at least one session is live. All-sessions-failed is reported as
// an error; partial failure is logged and the Peer proceeds with however
// many slots connected.
func Connect(ctx *Context, opts PeerOpts) (*Peer, error) {
	if opts.Sessions <= 0 {
		opts.Sessions = 1
	}
	p := &Peer{ctx: ctx, opts: opts, logID: "peer-" + uuid.NewString()[:8]}

	type dialResult struct {
		idx  int
		sess *Session
		err  error
	}
	results := make([]dialResult, opts.Sessions)

	var g errgroup.Group
	for i := 0; i < opts.Sessions; i++ {
		i := i
		g.Go(func() error {
			s, err := p.dialOne()
			results[i] = dialResult{idx: i, sess: s, err: err}
			return nil // aggregate below; don't let one failed dial cancel the rest
		})
	}
	_ = g.Wait()

	var firstErr error
	for _, r := range results {
		if r.err != nil {
			ctx.logger.Errorf(p.logID, "dial slot %d: %v", r.idx, r.err)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		slot := &peerSlot{sess: r.sess}
		r.sess.ownerPeer = p
		p.slots = append(p.slots, slot)
		r.sess.slotIdx = len(p.slots) - 1
	}
	if len(p.slots) == 0 {
		return nil, fmt.Errorf("duplex: peer %s: all %d dial attempts failed: %w", opts.Authority, opts.Sessions, firstErr)
	}

	ctx.addPeer(p)
	return p, nil
}

func (p *Peer) dialOne() (*Session, error) {
	proto := p.ctx.protoPref
	var conn duplexConn
	isTLS := p.opts.TLSConfig != nil

	fd, err := dialTCP(p.opts.Authority)
	if err != nil {
		return nil, err
	}

	if isTLS {
		tc, err := dialTLS(fd, p.opts.TLSConfig, p.opts.WantH2)
		if err != nil {
			closeRawFD(fd)
			return nil, err
		}
		conn = tc
		if tc.Conn.ConnectionState().NegotiatedProtocol == "h2" {
			proto = ProtoH2
		} else {
			proto = ProtoH1
		}
	} else {
		conn = &fdConn{fd: fd}
		if p.opts.WantH2 {
			proto = ProtoH2
		}
	}

	s := newSession(p.ctx, conn, fd, isTLS, RoleClient, proto)
	s.logID = "cli-" + uuid.NewString()[:8]
	s.onResponse = p.opts.OnResponse
	s.freeCB = p.opts.FreeSess
	s.userData = p.opts.UserData

	if proto == ProtoH2 {
		s.attachH2(s.h2Callbacks())
		s.h2.SubmitSettings(peerSettingsToHTTP2(p.opts.Settings))
	}

	p.ctx.addSession(s)
	return s, nil
}

// SendRequest picks the next live slot round-robin and queues req on it.
// While every slot is live, a slot that has crossed ReqThresh is told to
// drain and skipped; it is redialed once its session closes (spec.md
// §4.7). Returns the Stream the caller can watch for a response, or nil
// if no slot is currently available.
func (p *Peer) SendRequest(req *message.Message) *message.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminating {
		return nil
	}
	if len(p.slots) == 0 {
		return nil
	}

	activeCount := 0
	for _, slot := range p.slots {
		if slot.sess != nil {
			activeCount++
		}
	}

	start := p.next
	for i := 0; i < len(p.slots); i++ {
		idx := (start + i) % len(p.slots)
		slot := p.slots[idx]
		p.next = (idx + 1) % len(p.slots)

		if slot.sess == nil {
			continue
		}
		// Only rotate proactively while every slot is live: a slot already
		// down or reconnecting means the pool is below its target size, and
		// piling a second rotation on top would compound the outage.
		if p.opts.ReqThresh > 0 && slot.reqSent >= p.opts.ReqThresh && activeCount >= len(p.slots) {
			slot.sess.Terminate(true) // drains in place; onSlotFreed redials once it closes
			activeCount--
			continue
		}
		stream := slot.sess.SendRequest(req)
		slot.reqSent++
		return stream
	}
	return nil
}

// onSlotFreed is invoked by Session.free for any session owned by a Peer
// slot. Unless the Peer is terminating, it redials the slot so the pool
// stays at full size.
func (p *Peer) onSlotFreed(idx int) {
	p.mu.Lock()
	terminating := p.terminating
	if idx >= 0 && idx < len(p.slots) {
		p.slots[idx].sess = nil
	}
	p.mu.Unlock()

	if terminating {
		return
	}
	s, err := p.dialOne()
	if err != nil {
		p.ctx.logger.Errorf(p.logID, "reconnect slot %d: %v", idx, err)
		return
	}
	p.mu.Lock()
	s.ownerPeer = p
	s.slotIdx = idx
	p.slots[idx].sess = s
	p.slots[idx].reqSent = 0
	p.mu.Unlock()
}

// Terminate closes every slot's session (draining if waitRsp), preventing
// further reconnects.
func (p *Peer) Terminate(waitRsp bool) {
	p.mu.Lock()
	p.terminating = true
	sessions := make([]*Session, 0, len(p.slots))
	for _, slot := range p.slots {
		if slot.sess != nil {
			sessions = append(sessions, slot.sess)
		}
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.Terminate(waitRsp)
	}
	if p.opts.FreePeer != nil {
		p.opts.FreePeer(p, p.opts.UserData)
	}
}

// tick is called once per Context readiness-loop iteration; currently a
// hook point for future idle-timeout/health checks, kept per spec.md
// §4.7's "peer-level periodic maintenance" — no maintenance is needed
// yet, since reconnects are driven eagerly from onSlotFreed instead.
func (p *Peer) tick() {}
