package http1

import (
	"strconv"
	"strings"

	"github.com/s00inx/duplex/message"
)

// statusText mirrors the teacher's status table (server/protocol/builder.go)
// as a small fixed map keyed by the three-digit code.
var statusText = map[string]string{
	"100": "Continue",
	"101": "Switching Protocols",
	"200": "OK",
	"201": "Created",
	"202": "Accepted",
	"204": "No Content",
	"301": "Moved Permanently",
	"302": "Found",
	"304": "Not Modified",
	"400": "Bad Request",
	"401": "Unauthorized",
	"403": "Forbidden",
	"404": "Not Found",
	"405": "Method Not Allowed",
	"408": "Request Timeout",
	"413": "Payload Too Large",
	"500": "Internal Server Error",
	"501": "Not Implemented",
	"502": "Bad Gateway",
	"503": "Service Unavailable",
	"504": "Gateway Timeout",
}

// EncodeRequest serializes msg as an HTTP/1.1 request line, the Host
// header derived from authority (unless already present), and the rest of
// msg's headers. A Content-Length header (0 for an empty body) is added
// whenever none was already set.
func EncodeRequest(msg *message.Message) []byte {
	var b strings.Builder
	path := msg.Path()
	if path == "" {
		path = "/"
	}
	b.WriteString(msg.Method())
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")

	wroteHost := false
	for _, h := range msg.Headers() {
		if strings.EqualFold(h.Name, "Host") {
			wroteHost = true
		}
		writeHeader(&b, h.Name, h.Value)
	}
	if !wroteHost && msg.Authority() != "" {
		writeHeader(&b, "Host", msg.Authority())
	}
	writeContentLength(&b, msg)
	b.WriteString("\r\n")
	b.Write(msg.Body)
	return []byte(b.String())
}

// EncodeResponse serializes msg as an HTTP/1.1 status line plus headers.
func EncodeResponse(msg *message.Message) []byte {
	var b strings.Builder
	code := msg.Status()
	if code == "" {
		code = "500"
	}
	reason, ok := statusText[code]
	if !ok {
		code, reason = "500", statusText["500"]
	}
	b.WriteString("HTTP/1.1 ")
	b.WriteString(code)
	b.WriteByte(' ')
	b.WriteString(reason)
	b.WriteString("\r\n")

	for _, h := range msg.Headers() {
		writeHeader(&b, h.Name, h.Value)
	}
	writeContentLength(&b, msg)
	b.WriteString("\r\n")
	b.Write(msg.Body)
	return []byte(b.String())
}

func writeContentLength(b *strings.Builder, msg *message.Message) {
	if msg.Header("Content-Length") != "" {
		return
	}
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(msg.Body)))
	b.WriteString("\r\n")
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}
