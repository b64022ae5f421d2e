package duplex

import (
	"crypto/tls"

	"github.com/s00inx/duplex/message"
)

// Callback return codes (spec.md §6.4): a negative return from a
// RequestFunc or ResponseFunc fails the session, except on an HTTP/2
// server session, where a negative RequestFunc return resets only that
// stream.
const (
	CodeOK     = 0
	CodeReject = -1
)

// RequestFunc is invoked once a request's headers+body are fully parsed
// or decoded (H1 or H2 alike).
type RequestFunc func(s *Session, stream *message.Stream, req *message.Message) int

// ResponseFunc is invoked once a response's headers+body are fully
// received.
type ResponseFunc func(s *Session, stream *message.Stream, resp *message.Message) int

// PushPromiseFunc fires when a server push promise is observed for
// parentStream. It returns the free callback and user data to attach to
// the promised stream. PUSH_PROMISE frame handling is not implemented by
// http2.Adapter (see DESIGN.md) — this hook exists so the callback surface
// spec.md §6.4 names is complete, but it is never invoked in this build.
type PushPromiseFunc func(s *Session, parentStream *message.Stream, promisedReq *message.Message) (StreamFreeFunc, any)

// PushResponseFunc fires once a pushed response completes.
type PushResponseFunc func(s *Session, promisedStream *message.Stream, resp *message.Message) int

// StreamFreeFunc releases a Stream's user data.
type StreamFreeFunc func(userData any)

// SessionFreeFunc fires once a Session has been fully torn down.
type SessionFreeFunc func(s *Session, userData any)

// AcceptFunc materializes per-connection TLS config and callbacks for a
// newly-accepted Listener connection.
type AcceptFunc func(l *Listener, host string, port int) (AcceptResult, error)

// AcceptResult is everything accept_cb produces per spec.md §6.4.
type AcceptResult struct {
	TLSConfig  *tls.Config
	Settings   PeerSettings
	OnRequest  RequestFunc
	FreeSess   SessionFreeFunc
	UserData   any
}

// PeerFreeFunc fires at the end of Peer.Terminate, once every slot's
// session has been told to terminate; draining sessions may still be open.
type PeerFreeFunc func(p *Peer, userData any)
