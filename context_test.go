package duplex

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/s00inx/duplex/message"
)

// TestContextServesPlaintextH1 spins up a real Context loop against a
// loopback listener and drives one request/response exchange through it,
// in the same style as the teacher's own epoll benchmark
// (server/engine/engine_test.go): a real dial, real bytes on the wire, no
// mocked socket layer.
func TestContextServesPlaintextH1(t *testing.T) {
	ctx, err := NewContext()
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Free()

	const authority = "127.0.0.1:18099"
	_, err = Listen(ctx, ListenOpts{
		Authority: authority,
		Accept: func(l *Listener, host string, port int) (AcceptResult, error) {
			return AcceptResult{
				OnRequest: func(s *Session, stream *message.Stream, req *message.Message) int {
					resp := message.New()
					resp.SetPseudo(message.Status, "200")
					resp.Body = []byte("hello")
					s.SendResponse(stream, resp)
					return CodeOK
				},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	go ctx.Run()
	defer ctx.Stop()

	conn, err := net.DialTimeout("tcp", authority, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := "GET /ping HTTP/1.1\r\nHost: localhost\r\nContent-Length: 0\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)

	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if statusLine != "HTTP/1.1 200 OK\r\n" {
		t.Fatalf("status line = %q", statusLine)
	}

	var contentLength int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if line == "\r\n" {
			break
		}
		if rest, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			contentLength, _ = strconv.Atoi(strings.TrimSpace(rest))
		}
	}
	body := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := r.Read(body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
}
