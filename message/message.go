// Package message holds the wire-agnostic request/response value and the
// stream that carries it through a Session. Nothing here builds a Message —
// that's left to callers (and to the http1/http2 packages that decode one off
// the wire) — this package only defines the shape.
package message

import "strings"

// Pseudo-header names, compared case-insensitively wherever they're parsed.
const (
	Method    = "method"
	Scheme    = "scheme"
	Authority = "authority"
	Path      = "path"
	Status    = "status"
)

// Header is one ordered (name, value) pair. Names are stored as received;
// lookups are case-insensitive.
type Header struct {
	Name  string
	Value string
}

// Message is a request or a response: a handful of pseudo-headers, an
// ordered header list, and a body.
type Message struct {
	pseudo  map[string]string
	headers []Header
	Body    []byte
}

// New returns an empty Message ready for a decoder to fill in.
func New() *Message {
	return &Message{pseudo: make(map[string]string, 4)}
}

func (m *Message) SetPseudo(name, value string) { m.pseudo[strings.ToLower(name)] = value }
func (m *Message) Pseudo(name string) string     { return m.pseudo[strings.ToLower(name)] }

func (m *Message) AddHeader(name, value string) {
	m.headers = append(m.headers, Header{Name: name, Value: value})
}

// Header returns the first value for name, matched case-insensitively.
func (m *Message) Header(name string) string {
	for _, h := range m.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (m *Message) Headers() []Header { return m.headers }

func (m *Message) Method() string    { return m.Pseudo(Method) }
func (m *Message) Scheme() string    { return m.Pseudo(Scheme) }
func (m *Message) Authority() string { return m.Pseudo(Authority) }
func (m *Message) Path() string      { return m.Pseudo(Path) }
func (m *Message) Status() string    { return m.Pseudo(Status) }

// FreeCallback is invoked when a Stream's user data should be released.
type FreeCallback func(userData any)

// Stream is one request/response exchange on a Session.
type Stream struct {
	ID int64 // codec-assigned for H2, synthetic (req_cnt*2+1) for H1

	Request  *Message
	Response *Message

	// wire holds H1's fully-encoded outbound bytes (status/request line +
	// headers + body) once a response (server) or request (client) has
	// been handed to the send path; wireOff is the drain cursor into it.
	// H2 never touches these — the http2 Adapter encodes
	// Response.Body/Request.Body into a DATA frame when the message is
	// submitted.
	wire    []byte
	wireOff int

	UserData any
	FreeUser FreeCallback

	// Reset when a reset/RST_STREAM is observed on this stream.
	Reset bool

	// prev/next link this Stream into its owning Session's FIFO list.
	prev, next *Stream
}

func NewStream(id int64) *Stream { return &Stream{ID: id} }

// SetWire installs the H1 wire-encoded bytes to drain for this stream.
func (s *Stream) SetWire(data []byte) {
	s.wire, s.wireOff = data, 0
}

// HasWire reports whether SetWire has been called (the stream has
// something queued for the H1 send path).
func (s *Stream) HasWire() bool { return s.wire != nil }

// PendingWire returns the unsent tail of the wire bytes, or nil if none
// remain.
func (s *Stream) PendingWire() []byte {
	if s.wireOff >= len(s.wire) {
		return nil
	}
	return s.wire[s.wireOff:]
}

func (s *Stream) AdvanceWire(n int) { s.wireOff += n }

func (s *Stream) WireDone() bool { return s.wire != nil && s.wireOff >= len(s.wire) }

// Free invokes the user free callback, if any, and clears links.
func (s *Stream) Free() {
	if s.FreeUser != nil {
		s.FreeUser(s.UserData)
		s.FreeUser = nil
	}
	s.UserData = nil
	s.prev, s.next = nil, nil
}

// List is the intrusive FIFO of Streams owned by a Session. It mirrors the
// linked lists the original source uses for sessions/streams, but is scoped
// to one owner, so "mutate while iterating" is always just advancing to the
// next-before-calling-back pointer.
type List struct {
	head, tail *Stream
	count      int
}

func (l *List) Len() int    { return l.count }
func (l *List) Head() *Stream { return l.head }
func (l *List) Tail() *Stream { return l.tail }

func (l *List) PushBack(s *Stream) {
	s.prev, s.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = s
	} else {
		l.head = s
	}
	l.tail = s
	l.count++
}

// Remove unlinks s from the list. s must be a member of l.
func (l *List) Remove(s *Stream) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next = nil, nil
	l.count--
}

// ByID finds a stream by id (H2 lookups; FIFO scan is fine at H2's stream
// counts).
func (l *List) ByID(id int64) *Stream {
	for s := l.head; s != nil; s = s.next {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Next snapshots the successor before the caller may mutate/remove cur,
// matching the "snapshot next before calling user code" rule used throughout
// the readiness loop.
func Next(cur *Stream) *Stream {
	if cur == nil {
		return nil
	}
	return cur.next
}
