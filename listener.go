package duplex

import (
	"crypto/tls"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/s00inx/duplex/http2"
)

// Listener accepts inbound connections on one bound address, negotiating
// TLS+ALPN (if configured) and handing each accepted Session off to its
// AcceptFunc-supplied callbacks, per spec.md §4.6.
type Listener struct {
	ctx       *Context
	authority string
	fd        int

	tlsBase   *tls.Config // nil for plaintext listeners
	requireH2 bool         // spec.md §6.2: mandatory ALPN "h2"; otherwise the connection is shut down after the handshake

	accept AcceptFunc
	free   PeerFreeFunc
	user   any
}

// ListenOpts configures a new Listener.
type ListenOpts struct {
	Authority string
	TLSConfig *tls.Config // nil for plaintext
	RequireH2 bool
	Accept    AcceptFunc
	UserData  any
}

// Listen binds and registers a new Listener on ctx, per spec.md §4.6.
func Listen(ctx *Context, opts ListenOpts) (*Listener, error) {
	fd, err := listenTCP(opts.Authority)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		ctx:       ctx,
		authority: opts.Authority,
		fd:        fd,
		tlsBase:   opts.TLSConfig,
		requireH2: opts.RequireH2,
		accept:    opts.Accept,
		user:      opts.UserData,
	}
	ctx.addListener(l)
	return l, nil
}

func (l *Listener) Authority() string { return l.authority }

// handleAccept finishes a single accepted connection: optional TLS+ALPN
// handshake, AcceptFunc callback, and protocol selection, then registers
// the resulting Session with the Context.
func (l *Listener) handleAccept(ctx *Context, fd int) {
	host, portStr, _ := net.SplitHostPort(l.authority)
	port, _ := strconv.Atoi(portStr)

	res, err := l.accept(l, host, port)
	if err != nil {
		ctx.logger.Errorf(l.authority, "accept_cb rejected connection: %v", err)
		closeRawFD(fd)
		return
	}

	tlsCfg := res.TLSConfig
	if tlsCfg == nil {
		tlsCfg = l.tlsBase
	}

	var (
		conn  duplexConn
		isTLS bool
		proto = ProtoH1
	)

	if tlsCfg != nil {
		tc, negotiated, err := acceptTLS(fd, tlsCfg)
		if err != nil {
			ctx.logger.Errorf(l.authority, "TLS handshake: %v", err)
			closeRawFD(fd)
			return
		}
		conn, isTLS = tc, true
		switch negotiated {
		case "h2":
			proto = ProtoH2
		case "", "http/1.1":
			if l.requireH2 {
				ctx.logger.Errorf(l.authority, "peer did not negotiate h2, rejecting per mandatory-h2 listener")
				tc.ShutdownBoth()
				return
			}
			proto = ProtoH1
		default:
			tc.ShutdownBoth()
			return
		}
	} else {
		conn = &fdConn{fd: fd}
	}

	s := newSession(ctx, conn, fd, isTLS, RoleServer, proto)
	s.onRequest = res.OnRequest
	s.freeCB = res.FreeSess
	s.userData = res.UserData
	s.logID = "srv-" + uuid.NewString()[:8]

	if proto == ProtoH2 {
		s.attachH2(s.h2Callbacks())
		s.h2.SubmitSettings(peerSettingsToHTTP2(res.Settings))
	}

	ctx.addSession(s)
}

func closeRawFD(fd int) {
	_ = (&fdConn{fd: fd}).Close()
}

// peerSettingsToHTTP2 adapts the public PeerSettings knobs (spec.md §4.7)
// onto the codec's Settings shape.
func peerSettingsToHTTP2(s PeerSettings) http2.Settings {
	return http2.Settings{
		HeaderTableSize:       s.HeaderTableSize,
		EnablePush:            s.EnablePush,
		MaxConcurrentStreams:  s.MaxConcurrentStreams,
		InitialWindowSize:     s.InitialWindowSize,
		MaxFrameSize:          s.MaxFrameSize,
		MaxHeaderListSize:     s.MaxHeaderListSize,
		EnableConnectProtocol: s.EnableConnectProtocol,
	}
}
