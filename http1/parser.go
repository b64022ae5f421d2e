// Package http1 implements the incremental, chunk-agnostic HTTP/1.1 parser
// and wire encoder described in spec.md §4.5. Grounded on the teacher's
// server/protocol/parser.go state machine (find-separator, header split,
// Content-Length body wait), generalized to: (a) restart across arbitrary
// byte-chunk boundaries using internal/rbuf instead of a single fixed
// session buffer, and (b) both request-line (server) and status-line
// (client) first lines, since the teacher only ever parses requests.
package http1

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/s00inx/duplex/internal/rbuf"
	"github.com/s00inx/duplex/message"
)

// ErrParse is returned for any malformed input; callers map it to
// BY_HTTP_ERR and close the session.
var ErrParse = errors.New("http1: parse error")

// errIncomplete is internal: "need more bytes", never escapes Feed.
var errIncomplete = errors.New("http1: incomplete")

// Callbacks supplies the parser with the session-specific pieces it cannot
// know on its own: how to mint/find the Stream a message belongs to, and
// what to do once one is fully parsed.
type Callbacks struct {
	// NewRequestStream is called (server side only) when the first byte of
	// a new request arrives. It must mint a Stream with id req_cnt*2+1 and
	// bump req_cnt.
	NewRequestStream func() *message.Stream

	// HeadStream is called (client side only) to find the FIFO head stream
	// awaiting a response. Returning nil is a parse error: "receiving
	// response bytes with no outstanding request".
	HeadStream func() *message.Stream

	// OnMessageComplete fires once headers+body are fully parsed. For a
	// server session this is request-complete (stream stays attached,
	// pending a response); for a client session this is response-complete
	// (the caller frees the stream and bumps strm_close_cnt).
	OnMessageComplete func(stream *message.Stream)
}

// Parser is one Session's H1 parse state. Not safe for concurrent use —
// exactly one Session owns exactly one Parser, consistent with the single
// cooperative readiness loop.
type Parser struct {
	IsServer bool
	IsTLS    bool

	buf rbuf.Buffer

	cur           *message.Stream
	headerDone    bool
	haveLength    bool
	contentLength int
}

// Feed appends chunk to the read buffer and parses as many complete
// messages as possible, invoking cb.OnMessageComplete for each. It returns
// on the first parse error, or when the buffer holds only a partial
// message ("buffer exhausted" in spec.md §4.5 terms).
func (p *Parser) Feed(chunk []byte, cb Callbacks) error {
	p.buf.Append(chunk)
	for {
		consumed, err := p.parseOne(cb)
		if err == errIncomplete {
			return nil
		}
		if err != nil {
			return err
		}
		if consumed == 0 {
			return nil
		}
	}
}

// parseOne attempts to advance one message's worth of state. It returns 1
// once a message has completed, and 0 (with errIncomplete) when it only
// made partial progress; header lines and the body are consumed from the
// buffer as they are parsed.
func (p *Parser) parseOne(cb Callbacks) (int, error) {
	if p.cur == nil {
		if p.buf.Len() == 0 {
			return 0, errIncomplete
		}
		if p.IsServer {
			p.cur = cb.NewRequestStream()
			p.cur.Request = message.New()
		} else {
			p.cur = cb.HeadStream()
			if p.cur == nil {
				return 0, ErrParse
			}
			p.cur.Response = message.New()
		}
		p.headerDone = false
		p.haveLength = false
		p.contentLength = 0
	}

	msg := p.message()

	if !p.headerDone {
		for {
			line, n, ok := findLine(p.buf.Unread())
			if !ok {
				return 0, errIncomplete
			}
			if len(line) == 0 {
				p.buf.Consume(n)
				p.headerDone = true
				break
			}
			if err := p.consumeLine(line, msg); err != nil {
				return 0, err
			}
			p.buf.Consume(n)
		}
	}

	if p.haveLength && p.contentLength > 0 {
		unread := p.buf.Unread()
		if len(unread) < p.contentLength {
			return 0, errIncomplete
		}
		msg.Body = append([]byte(nil), unread[:p.contentLength]...)
		p.buf.Consume(p.contentLength)
	} else {
		msg.Body = nil
	}

	done := p.cur
	p.cur = nil
	cb.OnMessageComplete(done)
	return 1, nil
}

func (p *Parser) message() *message.Message {
	if p.IsServer {
		return p.cur.Request
	}
	return p.cur.Response
}

// consumeLine dispatches line 0 (request-line / status-line) vs a header
// line, treating a line as line 0 while msg still lacks its first-line
// pseudo-header (method for server, status for client) — simplest
// reliable signal without adding another field.
func (p *Parser) consumeLine(line []byte, msg *message.Message) error {
	isLine0 := false
	if p.IsServer {
		isLine0 = msg.Method() == ""
	} else {
		isLine0 = msg.Status() == ""
	}
	if isLine0 {
		if p.IsServer {
			return p.parseRequestLine(line, msg)
		}
		return p.parseStatusLine(line, msg)
	}
	return p.parseHeaderLine(line, msg)
}

// parseRequestLine handles "METHOD SP path SP HTTP/1.1".
func (p *Parser) parseRequestLine(line []byte, msg *message.Message) error {
	const httpVer = "HTTP/1.1"
	s := string(line)
	if !strings.HasSuffix(s, httpVer) {
		return ErrParse
	}
	head := s[:len(s)-len(httpVer)]
	if head == "" || (head[len(head)-1] != ' ' && head[len(head)-1] != '\t') {
		return ErrParse
	}
	rest := strings.TrimRight(head, " \t")

	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return ErrParse
	}
	method := rest[:sp]
	path := strings.TrimLeft(rest[sp+1:], " \t")
	if method == "" || path == "" {
		return ErrParse
	}

	msg.SetPseudo(message.Method, method)
	msg.SetPseudo(message.Path, path)
	if p.IsTLS {
		msg.SetPseudo(message.Scheme, "https")
	} else {
		msg.SetPseudo(message.Scheme, "http")
	}
	msg.SetPseudo(message.Authority, "http")
	return nil
}

// parseStatusLine handles "HTTP/1.1 SP DDD SP reason".
func (p *Parser) parseStatusLine(line []byte, msg *message.Message) error {
	s := string(line)
	sp := strings.IndexByte(s, ' ')
	if sp < 0 || sp+3 > len(s) {
		return ErrParse
	}
	digits := s[sp+1:]
	if len(digits) < 3 {
		return ErrParse
	}
	d0, d1, d2 := digits[0], digits[1], digits[2]
	if d0 < '1' || d0 > '5' || !isDigit(d1) || !isDigit(d2) {
		return ErrParse
	}
	if len(digits) > 3 && digits[3] != ' ' && digits[3] != '\t' {
		return ErrParse
	}
	code := 100*int(d0-'0') + 10*int(d1-'0') + int(d2-'0')
	msg.SetPseudo(message.Status, strconv.Itoa(code))
	return nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// parseHeaderLine handles one "Name: value" header, recognizing Host and
// Content-Length specially per spec.md §4.5.
func (p *Parser) parseHeaderLine(line []byte, msg *message.Message) error {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return ErrParse
	}
	name := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))
	if name == "" {
		return ErrParse
	}

	switch {
	case p.IsServer && strings.EqualFold(name, "Host"):
		msg.SetPseudo(message.Authority, value)
	case strings.EqualFold(name, "Content-Length"):
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return ErrParse
		}
		p.haveLength = true
		p.contentLength = n
	case strings.EqualFold(name, "Transfer-Encoding") && strings.EqualFold(value, "chunked"):
		// TODO: chunked transfer is explicitly unsupported (spec.md §4.5);
		// reject rather than silently mis-parse a chunked body.
		return ErrParse
	}
	msg.AddHeader(name, value)
	return nil
}

// findLine scans for the first line terminator (CRLF or bare LF), returning
// the line content (terminator stripped), the number of bytes the line plus
// terminator occupy, and whether a terminator was found at all.
func findLine(buf []byte) (line []byte, n int, ok bool) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, false
	}
	end := idx
	if end > 0 && buf[end-1] == '\r' {
		end--
	}
	return buf[:end], idx + 1, true
}
