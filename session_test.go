package duplex

import (
	"bytes"
	"testing"

	"github.com/s00inx/duplex/message"
)

// fakeConn is a minimal duplexConn+shutdowner double for exercising
// Session logic without a real socket.
type fakeConn struct {
	written     bytes.Buffer
	closedWrite bool
	closedBoth  bool
}

func (c *fakeConn) Read(p []byte) (int, error)  { return 0, nil }
func (c *fakeConn) Write(p []byte) (int, error) { return c.written.Write(p) }
func (c *fakeConn) Close() error                { return nil }
func (c *fakeConn) ShutdownWrite() error         { c.closedWrite = true; return nil }
func (c *fakeConn) ShutdownBoth() error          { c.closedBoth = true; return nil }

func newTestSession(role Role) (*Session, *fakeConn) {
	conn := &fakeConn{}
	s := newSession(&Context{sessions: map[int]*Session{}}, conn, -1, false, role, ProtoH1)
	return s, conn
}

func TestTerminateIsIdempotent(t *testing.T) {
	s, _ := newTestSession(RoleServer)
	if got := s.Terminate(false); got != "" {
		t.Fatalf("first Terminate() = %q, want empty", got)
	}
	if got := s.Terminate(false); got != "already" {
		t.Fatalf("second Terminate() = %q, want %q", got, "already")
	}
}

func TestTerminateImmediateShutsDownBoth(t *testing.T) {
	s, conn := newTestSession(RoleServer)
	s.Terminate(false)
	if !conn.closedBoth {
		t.Fatal("expected ShutdownBoth to be called for immediate terminate")
	}
	if s.closing != stateTerminated {
		t.Fatalf("closing = %v, want stateTerminated", s.closing)
	}
}

func TestTerminateDrainsOutstandingClientRequests(t *testing.T) {
	s, conn := newTestSession(RoleClient)
	s.reqCnt = 2
	s.rspCnt = 0

	s.Terminate(true)
	if s.closing != stateDraining {
		t.Fatalf("closing = %v, want stateDraining", s.closing)
	}
	if !conn.closedWrite {
		t.Fatal("expected ShutdownWrite for a draining terminate")
	}

	s.rspCnt = 1
	s.checkDrained()
	if s.closing != stateDraining {
		t.Fatal("should still be draining with one outstanding response")
	}

	s.rspCnt = 2
	s.checkDrained()
	if s.closing != stateTerminated {
		t.Fatal("should be fully terminated once every response arrived")
	}
}

func TestH1ServerSendPathDrainsFIFOOrder(t *testing.T) {
	s, conn := newTestSession(RoleServer)

	st1 := message.NewStream(1)
	st1.Request = message.New()
	st1.Response = message.New()
	st1.Response.SetPseudo(message.Status, "200")
	st1.Response.Body = []byte("one")
	s.streams.PushBack(st1)

	st2 := message.NewStream(3)
	st2.Request = message.New()
	st2.Response = message.New()
	st2.Response.SetPseudo(message.Status, "200")
	st2.Response.Body = []byte("two")
	s.streams.PushBack(st2)

	reason, err := s.send()
	if err != nil {
		t.Fatalf("send(): reason=%v err=%v", reason, err)
	}
	if s.streams.Len() != 0 {
		t.Fatalf("expected both streams drained, %d remain", s.streams.Len())
	}
	out := conn.written.String()
	if idx1, idx2 := indexOf(out, "one"), indexOf(out, "two"); idx1 < 0 || idx2 < 0 || idx1 > idx2 {
		t.Fatalf("responses not written in FIFO order: %q", out)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
