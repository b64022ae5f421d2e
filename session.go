package duplex

import (
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/s00inx/duplex/http1"
	"github.com/s00inx/duplex/http2"
	"github.com/s00inx/duplex/internal/wbuf"
	"github.com/s00inx/duplex/message"
)

// Role distinguishes which side of the connection a Session is.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Protocol is the negotiated (or assumed) protocol version, spec.md §3.
type Protocol int

const (
	ProtoH1 Protocol = iota
	ProtoH2
	ProtoH2Try // reserved placeholder, spec.md §6.2 — accepted, never advertised as functional.
)

// closeState mirrors spec.md §4.4's numbering exactly: 0 open, 1
// terminated (immediate), 2 draining.
type closeState int

const (
	stateOpen       closeState = 0
	stateTerminated closeState = 1
	stateDraining   closeState = 2
)

// CloseReason is the diagnostic tag stored on a Session at close time,
// spec.md §7.
type CloseReason string

const (
	BySockErr    CloseReason = "BY_SOCK_ERR"
	BySockEOF    CloseReason = "BY_SOCK_EOF"
	BySSLErr     CloseReason = "BY_SSL_ERR"
	ByNghttp2Err CloseReason = "BY_NGHTTP2_ERR"
	ByNghttp2End CloseReason = "BY_NGHTTP2_END"
	ByHTTPErr    CloseReason = "BY_HTTP_ERR"
	ByHTTPEnd    CloseReason = "BY_HTTP_END"
)

// duplexConn is the minimal byte-stream contract a Session drives: either
// a raw non-blocking fdConn or a deadline-probed tlsConn.
type duplexConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type shutdowner interface {
	ShutdownWrite() error
	ShutdownBoth() error
}

// sendSource is the pull-based byte source send_once drains into the
// Write Buffer — either the H2 Adapter's frame queue or the H1 send-path
// walk over this Session's Streams. Unifying the two lets sendOnce stay
// protocol-agnostic past this point, same as spec.md §4.2 describes both
// variants sharing identical merge/partial-write handling.
type sendSource interface {
	// Peek returns the next unsent span, or nil if the source is drained.
	// The same backing slice is returned on repeated calls until Advance
	// reports it fully consumed — required for TLS WANT_WRITE retries.
	Peek() []byte
	// Advance records n bytes of the most recently Peek'd span as sent.
	Advance(n int)
}

// Session is one connection: framed (H2) or line-based (H1.1), owning its
// socket, optional TLS handle, codec state, and Streams — spec.md §3.
type Session struct {
	ctx *Context

	conn  duplexConn
	fd    int // raw fd for plaintext sessions; a negative synthetic id for TLS sessions, which aren't registered with our epoll (see tlsconn.go)
	isTLS bool

	role  Role
	proto Protocol
	logID string

	streams   message.List
	h1Cursor  *message.Stream // client-only: forward walk cursor, "strm_sending"
	h1SendCur *message.Stream // stream currently owning the peeked H1 send chunk

	sendPending bool
	closing     closeState

	wb *wbuf.Buffer

	h1 *http1.Parser  // non-nil iff proto == ProtoH1
	h2 *http2.Adapter // non-nil iff proto == ProtoH2

	reqCnt, rspCnt, rspRstCnt, strmCloseCnt int64

	closeReason CloseReason
	startedAt   time.Time

	onRequest  RequestFunc
	onResponse ResponseFunc
	freeCB     SessionFreeFunc
	userData   any

	// ownerPeer/slotIdx are the weak back-link to a Peer slot, cleared via
	// the peer's free callback rather than followed as a strong owning
	// pointer (spec.md §3 "Ownership").
	ownerPeer *Peer
	slotIdx   int

	recvBuf [16 << 10]byte
}

func newSession(ctx *Context, conn duplexConn, fd int, isTLS bool, role Role, proto Protocol) *Session {
	s := &Session{
		ctx:       ctx,
		conn:      conn,
		fd:        fd,
		isTLS:     isTLS,
		role:      role,
		proto:     proto,
		logID:     uuid.NewString()[:8],
		wb:        wbuf.New(),
		startedAt: time.Now(),
	}
	if proto == ProtoH1 {
		s.h1 = &http1.Parser{IsServer: role == RoleServer, IsTLS: isTLS}
	}
	return s
}

// attachH2 wires an Adapter once a session has negotiated H2 (client
// connect or server ALPN match).
func (s *Session) attachH2(cb http2.Callbacks) {
	s.h2 = http2.New(s.role == RoleServer, cb)
}

func (s *Session) LogID() string       { return s.logID }
func (s *Session) Role() Role          { return s.role }
func (s *Session) Protocol() Protocol  { return s.proto }
func (s *Session) ReqCount() int64     { return s.reqCnt }
func (s *Session) RspCount() int64     { return s.rspCnt }
func (s *Session) CloseReason() CloseReason { return s.closeReason }

// --- send path (spec.md §4.2) ----------------------------------------------

func (s *Session) sendSourceFor() sendSource {
	if s.proto == ProtoH2 {
		return h2Source{s.h2}
	}
	return h1Source{s}
}

type h2Source struct{ a *http2.Adapter }

func (x h2Source) Peek() []byte   { return x.a.MemSend() }
func (x h2Source) Advance(n int) { x.a.MemSendDone(n) }

type h1Source struct{ s *Session }

func (x h1Source) Peek() []byte   { return x.s.h1NextChunk() }
func (x h1Source) Advance(n int) { x.s.h1AdvanceChunk(n) }

// sendOnce is the single pull-merge-write step, shared verbatim by H1 and
// H2 past the sendSource abstraction, per spec.md §4.2.
func (s *Session) sendOnce() (sent int, reason CloseReason, err error) {
	src := s.sendSourceFor()

	if s.wb.TailLen() == 0 {
		for {
			data := src.Peek()
			if data == nil {
				break
			}
			if s.wb.TryMerge(data) {
				src.Advance(len(data))
				continue
			}
			s.wb.SetTail(data)
			break
		}
	}

	if s.wb.MergeLen() > 0 {
		n, werr := s.conn.Write(s.wb.MergeBytes())
		if n > 0 {
			s.wb.AdvanceMerge(n)
			sent += n
		}
		if werr != nil {
			if errWouldBlock(werr) {
				s.sendPending = true
				return sent, "", nil
			}
			s.closeReason = BySockErr
			return sent, BySockErr, werr
		}
		if s.wb.MergeLen() > 0 {
			s.sendPending = true
			return sent, "", nil
		}
	}

	if s.wb.TailLen() > 0 {
		n, werr := s.conn.Write(s.wb.TailBytes())
		if n > 0 {
			s.wb.AdvanceTail(n)
			src.Advance(n)
			sent += n
		}
		if werr != nil {
			if errWouldBlock(werr) {
				s.sendPending = true
				return sent, "", nil
			}
			s.closeReason = BySockErr
			return sent, BySockErr, werr
		}
		if s.wb.TailLen() > 0 {
			s.sendPending = true
			return sent, "", nil
		}
	}

	if sent == 0 && s.wb.Idle() {
		s.sendPending = false
	}
	return sent, "", nil
}

// send calls sendOnce in a loop until it makes no further progress,
// spec.md §4.2 "send_once is called in a loop by send until it returns
// ≤ 0".
func (s *Session) send() (CloseReason, error) {
	for {
		n, reason, err := s.sendOnce()
		if err != nil {
			return reason, err
		}
		if n <= 0 {
			return "", nil
		}
	}
}

// h1NextChunk implements the H1 send-path walk from spec.md §4.2.
func (s *Session) h1NextChunk() []byte {
	if s.h1SendCur != nil {
		if p := s.h1SendCur.PendingWire(); p != nil {
			return p
		}
	}
	if s.role == RoleServer {
		for st := s.streams.Head(); st != nil; {
			next := message.Next(st)
			if st.Response == nil {
				st = next
				continue
			}
			if !st.HasWire() {
				st.SetWire(http1.EncodeResponse(st.Response))
			}
			if st.WireDone() {
				s.streams.Remove(st)
				st.Free()
				s.strmCloseCnt++
				st = next
				continue
			}
			s.h1SendCur = st
			return st.PendingWire()
		}
		return nil
	}

	st := s.h1Cursor
	if st == nil {
		st = s.streams.Head()
	}
	for st != nil {
		if st.HasWire() && !st.WireDone() {
			s.h1SendCur = st
			s.h1Cursor = st
			return st.PendingWire()
		}
		st = message.Next(st)
	}
	return nil
}

func (s *Session) h1AdvanceChunk(n int) {
	st := s.h1SendCur
	if st == nil {
		return
	}
	st.AdvanceWire(n)
	if !st.WireDone() {
		return
	}
	s.h1SendCur = nil
	if s.role == RoleServer {
		s.streams.Remove(st)
		st.Free()
		s.strmCloseCnt++
		return
	}
	s.h1Cursor = message.Next(st)
}

// SendResponse attaches resp to stream and queues it on the send path
// (server side).
func (s *Session) SendResponse(stream *message.Stream, resp *message.Message) {
	s.rspCnt++
	if s.proto == ProtoH2 {
		s.h2.SubmitResponse(stream, resp)
	} else {
		stream.Response = resp
	}
	s.sendPending = true
}

// SendRequest creates a new Stream for req and queues it (client side).
// It returns nil, queueing nothing, once the session is draining or
// terminated.
func (s *Session) SendRequest(req *message.Message) *message.Stream {
	if s.closing != stateOpen {
		return nil
	}
	s.reqCnt++
	var stream *message.Stream
	if s.proto == ProtoH2 {
		stream = s.h2.SubmitRequest(req)
	} else {
		stream = message.NewStream(int64(s.reqCnt)*2 - 1)
		stream.Request = req
		stream.SetWire(http1.EncodeRequest(req))
	}
	s.streams.PushBack(stream)
	s.sendPending = true
	return stream
}

// --- receive path (spec.md §4.3) -------------------------------------------

func (s *Session) receive() (CloseReason, error) {
	n, err := s.conn.Read(s.recvBuf[:])
	if err != nil {
		if errWouldBlock(err) {
			return "", nil
		}
		s.closeReason = BySockErr
		return BySockErr, err
	}
	if n == 0 {
		s.closeReason = BySockEOF
		return BySockEOF, io.EOF
	}
	chunk := s.recvBuf[:n]

	if s.proto == ProtoH2 {
		if _, err := s.h2.MemRecv(chunk); err != nil {
			s.closeReason = ByNghttp2Err
			return ByNghttp2Err, err
		}
		return "", nil
	}

	if err := s.h1.Feed(chunk, s.h1Callbacks()); err != nil {
		s.closeReason = ByHTTPErr
		return ByHTTPErr, err
	}
	return "", nil
}

func (s *Session) h1Callbacks() http1.Callbacks {
	return http1.Callbacks{
		NewRequestStream: func() *message.Stream {
			s.reqCnt++
			st := message.NewStream(s.reqCnt*2 - 1)
			s.streams.PushBack(st)
			return st
		},
		HeadStream: func() *message.Stream {
			return s.streams.Head()
		},
		OnMessageComplete: func(stream *message.Stream) {
			if s.role == RoleServer {
				if s.onRequest != nil && s.onRequest(s, stream, stream.Request) < 0 {
					s.closing = stateTerminated
				}
				return
			}
			s.rspCnt++
			if s.onResponse != nil && s.onResponse(s, stream, stream.Response) < 0 {
				s.closing = stateTerminated
			}
			s.streams.Remove(stream)
			stream.Free()
			s.strmCloseCnt++
			s.checkDrained()
		},
	}
}

func (s *Session) h2Callbacks() http2.Callbacks {
	return http2.Callbacks{
		NewStream: func(id uint32) *message.Stream {
			st := message.NewStream(int64(id))
			s.streams.PushBack(st)
			s.reqCnt++
			return st
		},
		FindStream: func(id uint32) *message.Stream {
			return s.streams.ByID(int64(id))
		},
		OnStreamClose: func(stream *message.Stream, errored bool) {
			if errored {
				s.rspRstCnt++
			}
		},
		OnDataChunk: func(stream *message.Stream, data []byte) {
			if s.role == RoleServer {
				stream.Request.Body = append(stream.Request.Body, data...)
				return
			}
			stream.Response.Body = append(stream.Response.Body, data...)
		},
		OnMessageComplete: func(stream *message.Stream) {
			if s.role == RoleServer {
				if s.onRequest != nil && s.onRequest(s, stream, stream.Request) < 0 {
					s.h2.RejectStream(uint32(stream.ID))
				}
				return
			}
			s.rspCnt++
			if s.onResponse != nil && s.onResponse(s, stream, stream.Response) < 0 {
				s.closing = stateTerminated
			}
			s.streams.Remove(stream)
			stream.Free()
			s.strmCloseCnt++
			s.checkDrained()
		},
	}
}

// checkDrained promotes a draining client session to fully terminated once
// every outstanding request has a matching response, spec.md §4.4's
// "terminate(wait_rsp=true)" contract.
func (s *Session) checkDrained() {
	if s.closing == stateDraining && s.rspCnt >= s.reqCnt {
		s.closing = stateTerminated
		s.sendPending = true
	}
}

// --- interest & lifecycle (spec.md §4.1, §4.4) -----------------------------

// wantsRead/wantsWrite implement the per-protocol interest rules of
// spec.md §4.1.
func (s *Session) wantsRead() bool {
	if s.proto == ProtoH2 {
		return s.h2.WantsRead()
	}
	return s.closing != stateTerminated
}

func (s *Session) wantsWrite() bool {
	if s.proto == ProtoH2 {
		return s.sendPending || s.h2.WantsWrite()
	}
	return s.sendPending
}

// Terminate implements spec.md §4.4. Returns "already" if the session was
// already terminated (idempotent, testable property 7).
func (s *Session) Terminate(waitRsp bool) string {
	if s.closing == stateTerminated {
		return "already"
	}
	if waitRsp && s.role == RoleClient && s.reqCnt > s.rspCnt {
		s.closing = stateDraining
		if sd, ok := s.conn.(shutdowner); ok {
			sd.ShutdownWrite()
		}
		return ""
	}
	s.closing = stateTerminated
	if s.proto == ProtoH2 {
		s.h2.Terminate(0)
	} else if sd, ok := s.conn.(shutdowner); ok {
		sd.ShutdownBoth()
	}
	s.sendPending = true
	return ""
}

// free tears the session down per spec.md §4.4: detach from the Context,
// free all streams, invoke the session free callback, close the
// connection, release buffers, and — server sessions that handled more
// than one request — print a one-line summary.
func (s *Session) free(reason CloseReason) {
	if reason != "" {
		s.closeReason = reason
	}
	s.ctx.removeSession(s)
	for st := s.streams.Head(); st != nil; {
		next := message.Next(st)
		s.streams.Remove(st)
		st.Free()
		st = next
	}
	if s.freeCB != nil {
		s.freeCB(s, s.userData)
	}
	if s.ownerPeer != nil {
		s.ownerPeer.onSlotFreed(s.slotIdx)
	}
	s.conn.Close()
	s.wb.Close()

	if s.role == RoleServer && s.reqCnt > 1 {
		s.ctx.logger.Infof(s.logID, "session done: req=%d rsp=%d rst=%d reason=%s dur=%s",
			s.reqCnt, s.rspCnt, s.rspRstCnt, s.closeReason, time.Since(s.startedAt))
	}
}
