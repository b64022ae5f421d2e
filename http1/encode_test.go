package http1

import (
	"strings"
	"testing"

	"github.com/s00inx/duplex/message"
)

func TestEncodeRequest(t *testing.T) {
	msg := message.New()
	msg.SetPseudo(message.Method, "GET")
	msg.SetPseudo(message.Path, "/widgets")
	msg.SetPseudo(message.Authority, "example.com")

	out := string(EncodeRequest(msg))
	if !strings.HasPrefix(out, "GET /widgets HTTP/1.1\r\n") {
		t.Fatalf("unexpected request line: %q", out)
	}
	if !strings.Contains(out, "Host: example.com\r\n") {
		t.Errorf("missing Host header: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 0\r\n") {
		t.Errorf("missing Content-Length: %q", out)
	}
}

func TestEncodeRequestKeepsExplicitHost(t *testing.T) {
	msg := message.New()
	msg.SetPseudo(message.Method, "GET")
	msg.SetPseudo(message.Path, "/")
	msg.SetPseudo(message.Authority, "example.com")
	msg.AddHeader("Host", "override.example")

	out := string(EncodeRequest(msg))
	if strings.Count(out, "Host:") != 1 {
		t.Fatalf("expected exactly one Host header: %q", out)
	}
	if !strings.Contains(out, "Host: override.example\r\n") {
		t.Errorf("expected explicit Host preserved: %q", out)
	}
}

func TestEncodeResponse(t *testing.T) {
	msg := message.New()
	msg.SetPseudo(message.Status, "201")
	msg.Body = []byte(`{"ok":true}`)

	out := string(EncodeResponse(msg))
	if !strings.HasPrefix(out, "HTTP/1.1 201 Created\r\n") {
		t.Fatalf("unexpected status line: %q", out)
	}
	if !strings.HasSuffix(out, `{"ok":true}`) {
		t.Errorf("body not appended: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 11\r\n") {
		t.Errorf("wrong Content-Length: %q", out)
	}
}

func TestEncodeResponseUnknownStatusFallsBackTo500(t *testing.T) {
	msg := message.New()
	msg.SetPseudo(message.Status, "799")

	out := string(EncodeResponse(msg))
	if !strings.HasPrefix(out, "HTTP/1.1 500 Internal Server Error\r\n") {
		t.Fatalf("expected fallback to 500, got: %q", out)
	}
}
