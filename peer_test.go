package duplex

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/s00inx/duplex/message"
)

// startEchoServer spins up a real plaintext H1 server on authority plus a
// separate client Context, both driven by their own Run() loop, in the
// same real-socket style as TestContextServesPlaintextH1.
func startEchoServer(t *testing.T, authority string) (srvCtx, cliCtx *Context) {
	t.Helper()
	var err error
	srvCtx, err = NewContext()
	if err != nil {
		t.Fatalf("NewContext (server): %v", err)
	}
	cliCtx, err = NewContext()
	if err != nil {
		t.Fatalf("NewContext (client): %v", err)
	}
	t.Cleanup(srvCtx.Free)
	t.Cleanup(cliCtx.Free)
	t.Cleanup(srvCtx.Stop)
	t.Cleanup(cliCtx.Stop)

	_, err = Listen(srvCtx, ListenOpts{
		Authority: authority,
		Accept: func(l *Listener, host string, port int) (AcceptResult, error) {
			return AcceptResult{
				OnRequest: func(s *Session, stream *message.Stream, req *message.Message) int {
					resp := message.New()
					resp.SetPseudo(message.Status, "200")
					resp.Body = []byte("ok")
					s.SendResponse(stream, resp)
					return CodeOK
				},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	go srvCtx.Run()
	go cliCtx.Run()
	time.Sleep(20 * time.Millisecond) // let the listener start accepting before Connect dials it

	return srvCtx, cliCtx
}

func pingRequest(authority string) *message.Message {
	req := message.New()
	req.SetPseudo(message.Method, "GET")
	req.SetPseudo(message.Path, "/ping")
	req.SetPseudo(message.Authority, authority)
	return req
}

// TestPeerSendRequestRoundRobinsFairly covers spec.md §4.7 / §8 testable
// property #5: with ReqThresh disabled, requests spread evenly across a
// Peer's slots.
func TestPeerSendRequestRoundRobinsFairly(t *testing.T) {
	const authority = "127.0.0.1:18100"
	_, cliCtx := startEchoServer(t, authority)

	p, err := Connect(cliCtx, PeerOpts{
		Authority: authority,
		Sessions:  2,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < 6; i++ {
		if st := p.SendRequest(pingRequest(authority)); st == nil {
			t.Fatalf("SendRequest[%d] returned nil", i)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) != 2 {
		t.Fatalf("slot count = %d, want 2", len(p.slots))
	}
	for i, slot := range p.slots {
		if slot.reqSent != 3 {
			t.Fatalf("slot %d reqSent = %d, want 3", i, slot.reqSent)
		}
	}
}

// TestPeerReqThreshRotatesAndReconnects covers spec.md §4.7 / §8 testable
// property #6 and the N=2/T=3 shape of E2E scenario S5: once a slot crosses
// ReqThresh it drains and is replaced, and the pool stays at full size.
func TestPeerReqThreshRotatesAndReconnects(t *testing.T) {
	const authority = "127.0.0.1:18101"
	_, cliCtx := startEchoServer(t, authority)

	var freed atomic.Int64
	p, err := Connect(cliCtx, PeerOpts{
		Authority: authority,
		Sessions:  2,
		ReqThresh: 3,
		FreeSess:  func(*Session, any) { freed.Add(1) },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < 7; i++ {
		p.SendRequest(pingRequest(authority))
	}

	deadline := time.Now().Add(2 * time.Second)
	for freed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if freed.Load() == 0 {
		t.Fatal("expected the over-threshold slot to drain and free its session")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.slots) != 2 {
		t.Fatalf("slot count = %d, want 2 after rotation", len(p.slots))
	}
}
