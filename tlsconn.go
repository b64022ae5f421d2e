package duplex

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// tlsConn adapts a *tls.Conn — the external TLS provider, treated as a
// black-box byte stream per spec.md §1 — into the Session's non-blocking
// duplexConn contract. crypto/tls has no WANT_READ/WANT_WRITE retry
// protocol of its own the way the spec's original OpenSSL-backed provider
// does; the idiomatic Go substitute is to arm an already-elapsed deadline
// before every call and translate the resulting timeout into EAGAIN, which
// is exactly what errWouldBlock already treats as transient.
type tlsConn struct {
	*tls.Conn
}

func newFDNetConn(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "duplex-conn")
	return net.FileConn(f)
}

// dialTLS performs the client-side handshake over fd, advertising h2 via
// ALPN when wantH2 is set (spec.md §6.1).
func dialTLS(fd int, cfg *tls.Config, wantH2 bool) (*tlsConn, error) {
	nc, err := newFDNetConn(fd)
	if err != nil {
		return nil, err
	}
	cfg = cloneWithALPN(cfg, wantH2)
	c := tls.Client(nc, cfg)
	if err := c.HandshakeContext(context.Background()); err != nil {
		c.Close()
		return nil, err
	}
	return &tlsConn{c}, nil
}

// acceptTLS performs the server-side handshake, returning the negotiated
// ALPN protocol (empty if none).
func acceptTLS(fd int, cfg *tls.Config) (*tlsConn, string, error) {
	nc, err := newFDNetConn(fd)
	if err != nil {
		return nil, "", err
	}
	c := tls.Server(nc, cfg)
	if err := c.Handshake(); err != nil {
		c.Close()
		return nil, "", err
	}
	return &tlsConn{c}, c.ConnectionState().NegotiatedProtocol, nil
}

func cloneWithALPN(cfg *tls.Config, wantH2 bool) *tls.Config {
	c := cfg.Clone()
	if wantH2 {
		c.NextProtos = appendIfMissing(c.NextProtos, "h2")
	}
	c.NextProtos = appendIfMissing(c.NextProtos, "http/1.1")
	return c
}

func appendIfMissing(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

var pastDeadline = time.Unix(0, 1)

func (c *tlsConn) Read(p []byte) (int, error) {
	c.Conn.SetReadDeadline(pastDeadline)
	n, err := c.Conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, unix.EAGAIN
	}
	return n, err
}

func (c *tlsConn) Write(p []byte) (int, error) {
	c.Conn.SetWriteDeadline(pastDeadline)
	n, err := c.Conn.Write(p)
	if err != nil && isTimeout(err) {
		return n, unix.EAGAIN
	}
	return n, err
}

func (c *tlsConn) ShutdownWrite() error { return c.Conn.CloseWrite() }
func (c *tlsConn) ShutdownBoth() error  { return c.Conn.Close() }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
