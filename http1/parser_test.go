package http1

import (
	"errors"
	"testing"

	"github.com/s00inx/duplex/message"
)

func serverCallbacks(t *testing.T, got *[]*message.Stream) Callbacks {
	var cur *message.Stream
	return Callbacks{
		NewRequestStream: func() *message.Stream {
			cur = message.NewStream(1)
			return cur
		},
		OnMessageComplete: func(stream *message.Stream) {
			*got = append(*got, stream)
		},
	}
}

func Test_parser_requests(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		expectError error
		expectCalls int
		check       func(t *testing.T, req *message.Message)
	}{
		{
			name:        "valid get request",
			raw:         "GET /index.html HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n",
			expectCalls: 1,
			check: func(t *testing.T, req *message.Message) {
				if req.Method() != "GET" {
					t.Errorf("method = %q", req.Method())
				}
				if req.Path() != "/index.html" {
					t.Errorf("path = %q", req.Path())
				}
				if req.Authority() != "localhost" {
					t.Errorf("authority = %q", req.Authority())
				}
			},
		},
		{
			name:        "valid post with body",
			raw:         "POST /api/v1 HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world",
			expectCalls: 1,
			check: func(t *testing.T, req *message.Message) {
				if string(req.Body) != "hello world" {
					t.Errorf("body = %q", req.Body)
				}
			},
		},
		{
			name:        "pipelined requests",
			raw:         "GET /1 HTTP/1.1\r\n\r\nGET /2 HTTP/1.1\r\n\r\n",
			expectCalls: 2,
		},
		{
			name:        "incomplete request",
			raw:         "GET /partial HTTP/1.1\r\nHost: local",
			expectCalls: 0,
		},
		{
			name:        "malformed request line",
			raw:         "GET /sky\r\n\r\n",
			expectError: ErrParse,
		},
		{
			name:        "malformed header",
			raw:         "GET / HTTP/1.1\r\nNoColonHeader\r\n\r\n",
			expectError: ErrParse,
		},
		{
			name:        "body incomplete",
			raw:         "POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\nsmall body",
			expectCalls: 0,
		},
		{
			name:        "chunked transfer rejected",
			raw:         "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n",
			expectError: ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Parser{IsServer: true}
			var got []*message.Stream
			err := p.Feed([]byte(tt.raw), serverCallbacks(t, &got))

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("expected %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.expectCalls {
				t.Fatalf("expected %d completions, got %d", tt.expectCalls, len(got))
			}
			if tt.check != nil && len(got) > 0 {
				tt.check(t, got[0].Request)
			}
		})
	}
}

func Test_parser_feeds_across_chunk_boundaries(t *testing.T) {
	p := &Parser{IsServer: true}
	var got []*message.Stream
	cb := serverCallbacks(t, &got)

	raw := "POST /split HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	for i := 0; i < len(raw); i++ {
		if err := p.Feed([]byte{raw[i]}, cb); err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(got))
	}
	if string(got[0].Request.Body) != "hello" {
		t.Errorf("body = %q", got[0].Request.Body)
	}
}

func Test_parser_client_status_line(t *testing.T) {
	var headStream *message.Stream
	headStream = message.NewStream(1)
	var got []*message.Stream

	p := &Parser{IsServer: false}
	cb := Callbacks{
		HeadStream: func() *message.Stream { return headStream },
		OnMessageComplete: func(stream *message.Stream) {
			got = append(got, stream)
		},
	}

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"
	if err := p.Feed([]byte(raw), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(got))
	}
	if got[0].Response.Status() != "200" {
		t.Errorf("status = %q", got[0].Response.Status())
	}
	if string(got[0].Response.Body) != "OK" {
		t.Errorf("body = %q", got[0].Response.Body)
	}
}

func Test_parser_client_response_with_no_outstanding_request(t *testing.T) {
	p := &Parser{IsServer: false}
	cb := Callbacks{
		HeadStream: func() *message.Stream { return nil },
	}
	err := p.Feed([]byte("HTTP/1.1 200 OK\r\n\r\n"), cb)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
