// Package http2 is the thin bridge described in spec.md §4.8 between a
// Session and the external HTTP/2 frame codec. The codec itself —
// golang.org/x/net/http2's Framer and hpack encoder/decoder — is treated as
// a black-box state machine: callers of Adapter never see a http2.Frame or
// a hpack.HeaderField, only submit_settings/mem_send/mem_recv/wants_read/
// wants_write/terminate plus the request/response submission, MemSendDone
// and RejectStream helpers the Session needs.
package http2

import (
	"bytes"
	"io"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/s00inx/duplex/message"
)

// Settings mirrors the Peer configuration knobs from spec.md §4.7: each
// field −1 means "do not send", otherwise it's forwarded as a SETTINGS
// parameter.
type Settings struct {
	HeaderTableSize       int64
	EnablePush            int64
	MaxConcurrentStreams  int64
	InitialWindowSize     int64
	MaxFrameSize          int64
	MaxHeaderListSize     int64
	EnableConnectProtocol int64
}

// Callbacks translates codec events into the user-visible actions spec.md
// §6.4 names.
type Callbacks struct {
	// NewStream is called (server side) when a HEADERS frame opens a
	// stream the adapter hasn't seen before.
	NewStream func(streamID uint32) *message.Stream

	// FindStream looks up an existing stream by codec id.
	FindStream func(streamID uint32) *message.Stream

	// OnHeaders fires once a stream's header block is fully decoded.
	OnHeaders func(stream *message.Stream)

	// OnDataChunk fires for each DATA frame payload, in order.
	OnDataChunk func(stream *message.Stream, data []byte)

	// OnStreamClose fires when the stream ends, with errored set if it
	// closed via RST_STREAM rather than a clean END_STREAM.
	OnStreamClose func(stream *message.Stream, errored bool)

	// OnMessageComplete fires once, right after OnStreamClose for a
	// clean end-of-stream — the request (server) or response (client)
	// is now fully assembled.
	OnMessageComplete func(stream *message.Stream)
}

// outFrame is one already-serialized frame waiting to be drained through
// Session's Write Buffer.
type outFrame struct {
	data []byte
	off  int
}

// Adapter is one Session's codec state: decode side (hpack.Decoder fed
// incrementally from mem_recv) and encode side (a FIFO of serialized
// frames fed out through mem_send one at a time, matching nghttp2's own
// mem_send contract of "same pointer until exhausted").
type Adapter struct {
	isServer bool

	recv    []byte // unparsed inbound bytes, grows via mem_recv appends
	decoder *hpack.Decoder
	curHdrs *message.Stream // stream currently accumulating a header block

	encBuf  bytes.Buffer // scratch target for one Write* call at a time
	out     []outFrame
	wantsW  bool

	nextStreamID uint32 // client: next odd id to assign on submit_headers
	terminated   bool
	lastStreamID uint32 // highest stream id seen on an inbound HEADERS frame

	cb Callbacks
}

// New constructs an Adapter for one Session. isServer selects which side
// assigns stream ids (client) vs. which side reads them off the wire
// (server).
func New(isServer bool, cb Callbacks) *Adapter {
	a := &Adapter{isServer: isServer, cb: cb}
	if !isServer {
		a.nextStreamID = 1
	}
	a.decoder = hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		if a.curHdrs == nil {
			return
		}
		msg := a.streamMessage(a.curHdrs)
		if msg == nil {
			return
		}
		if len(f.Name) > 0 && f.Name[0] == ':' {
			msg.SetPseudo(f.Name[1:], f.Value)
		} else {
			msg.AddHeader(f.Name, f.Value)
		}
	})
	return a
}

func (a *Adapter) streamMessage(s *message.Stream) *message.Message {
	if a.isServer {
		if s.Request == nil {
			s.Request = message.New()
		}
		return s.Request
	}
	if s.Response == nil {
		s.Response = message.New()
	}
	return s.Response
}

// SubmitSettings enqueues a SETTINGS frame. −1 fields are omitted per
// spec.md §4.7.
func (a *Adapter) SubmitSettings(s Settings) {
	var params []http2.Setting
	add := func(id http2.SettingID, v int64) {
		if v >= 0 {
			params = append(params, http2.Setting{ID: id, Val: uint32(v)})
		}
	}
	add(http2.SettingHeaderTableSize, s.HeaderTableSize)
	add(http2.SettingEnablePush, s.EnablePush)
	add(http2.SettingMaxConcurrentStreams, s.MaxConcurrentStreams)
	add(http2.SettingInitialWindowSize, s.InitialWindowSize)
	add(http2.SettingMaxFrameSize, s.MaxFrameSize)
	add(http2.SettingMaxHeaderListSize, s.MaxHeaderListSize)
	add(http2.SettingEnableConnectProtocol, s.EnableConnectProtocol)
	a.writeFrame(func(fr *http2.Framer) error { return fr.WriteSettings(params...) })
}

// SubmitRequest (client side) assigns a new odd stream id, encodes msg's
// headers, and enqueues HEADERS (+ DATA if msg.Body is non-empty). It
// returns the Stream it created so the caller can attach it to the
// Session's FIFO before any response bytes can arrive.
func (a *Adapter) SubmitRequest(msg *message.Message) *message.Stream {
	id := a.nextStreamID
	a.nextStreamID += 2
	s := message.NewStream(int64(id))
	s.Request = msg
	a.submitHeaders(id, msg, len(msg.Body) == 0)
	if len(msg.Body) > 0 {
		a.submitData(id, msg.Body, true)
	}
	return s
}

// SubmitResponse (server side) encodes msg's headers for stream s and
// enqueues HEADERS (+ DATA).
func (a *Adapter) SubmitResponse(s *message.Stream, msg *message.Message) {
	s.Response = msg
	id := uint32(s.ID)
	a.submitHeaders(id, msg, len(msg.Body) == 0)
	if len(msg.Body) > 0 {
		a.submitData(id, msg.Body, true)
	}
}

func (a *Adapter) submitHeaders(id uint32, msg *message.Message, endStream bool) {
	var block bytes.Buffer
	enc := hpack.NewEncoder(&block)
	writePseudo := func(name, value string) {
		if value != "" {
			enc.WriteField(hpack.HeaderField{Name: ":" + name, Value: value})
		}
	}
	if a.isServer {
		writePseudo("status", msg.Status())
	} else {
		writePseudo("method", msg.Method())
		writePseudo("scheme", msg.Scheme())
		writePseudo("authority", msg.Authority())
		writePseudo("path", msg.Path())
	}
	for _, h := range msg.Headers() {
		enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value})
	}
	a.writeFrame(func(fr *http2.Framer) error {
		return fr.WriteHeaders(http2.HeadersFrameParam{
			StreamID:      id,
			BlockFragment: block.Bytes(),
			EndHeaders:    true,
			EndStream:     endStream,
		})
	})
}

func (a *Adapter) submitData(id uint32, data []byte, endStream bool) {
	a.writeFrame(func(fr *http2.Framer) error { return fr.WriteData(id, endStream, data) })
}

// Terminate enqueues a GOAWAY for lastStreamID and marks the session as no
// longer wanting to read. Session calls it on an immediate terminate; a
// draining terminate (waitRsp with requests outstanding) sends no GOAWAY.
func (a *Adapter) Terminate(errCode uint32) {
	if a.terminated {
		return
	}
	a.terminated = true
	last := a.lastStreamID
	a.writeFrame(func(fr *http2.Framer) error {
		return fr.WriteGoAway(last, http2.ErrCode(errCode), nil)
	})
}

// RejectStream resets a single stream without terminating the session —
// used when a request callback returns a negative code.
func (a *Adapter) RejectStream(id uint32) {
	a.writeFrame(func(fr *http2.Framer) error {
		return fr.WriteRSTStream(uint32(id), http2.ErrCodeCancel)
	})
}

// writeFrame serializes one frame through a throwaway Framer bound to a
// scratch buffer, then queues the resulting bytes as one outFrame. Each
// queue entry keeps a stable backing array from the moment it's queued
// until mem_send reports it fully drained, satisfying the "same (ptr, len)
// pair on retry" contract WB relies on.
func (a *Adapter) writeFrame(write func(*http2.Framer) error) {
	a.encBuf.Reset()
	fr := http2.NewFramer(&a.encBuf, nil)
	if err := write(fr); err != nil {
		return
	}
	data := make([]byte, a.encBuf.Len())
	copy(data, a.encBuf.Bytes())
	a.out = append(a.out, outFrame{data: data})
	a.wantsW = true
}

// MemSend yields the next outgoing byte span, or nil if nothing is
// pending. The same slice is returned on repeated calls until MemSendDone
// reports it fully consumed.
func (a *Adapter) MemSend() []byte {
	if len(a.out) == 0 {
		return nil
	}
	f := &a.out[0]
	return f.data[f.off:]
}

// MemSendDone records n bytes of the front frame as sent, popping it once
// fully drained.
func (a *Adapter) MemSendDone(n int) {
	if len(a.out) == 0 {
		return
	}
	a.out[0].off += n
	if a.out[0].off >= len(a.out[0].data) {
		a.out = a.out[1:]
	}
	a.wantsW = len(a.out) > 0
}

// WantsRead reports whether the session should still register read
// interest.
func (a *Adapter) WantsRead() bool { return !a.terminated }

// WantsWrite reports whether any frame is queued to go out.
func (a *Adapter) WantsWrite() bool { return a.wantsW }

// MemRecv delivers inbound bytes, parsing and dispatching as many complete
// frames as are present, and returns the number of bytes consumed (always
// len(chunk); partial frames are buffered internally for the next call).
func (a *Adapter) MemRecv(chunk []byte) (int, error) {
	a.recv = append(a.recv, chunk...)
	for {
		if len(a.recv) < 9 {
			break
		}
		length := int(a.recv[0])<<16 | int(a.recv[1])<<8 | int(a.recv[2])
		total := 9 + length
		if len(a.recv) < total {
			break
		}
		if err := a.dispatchFrame(a.recv[:total]); err != nil {
			return len(chunk), err
		}
		a.recv = a.recv[total:]
	}
	// Keep recv from growing unboundedly once fully drained.
	if len(a.recv) == 0 {
		a.recv = nil
	}
	return len(chunk), nil
}

func (a *Adapter) dispatchFrame(raw []byte) error {
	fr := http2.NewFramer(io.Discard, bytes.NewReader(raw))
	frame, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	switch f := frame.(type) {
	case *http2.SettingsFrame:
		// Peer settings are informational for this adapter; nothing here
		// changes local frame-size/window behavior. Ack if requested.
		if !f.IsAck() {
			a.writeFrame(func(w *http2.Framer) error { return w.WriteSettingsAck() })
		}
	case *http2.HeadersFrame:
		return a.handleHeaders(f)
	case *http2.DataFrame:
		return a.handleData(f)
	case *http2.RSTStreamFrame:
		a.handleReset(f.StreamID)
	case *http2.GoAwayFrame:
		a.terminated = true
	case *http2.WindowUpdateFrame, *http2.PingFrame, *http2.PriorityFrame:
		// No flow-control shaping or priority scheduling is implemented:
		// these frames are ignored, the adapter never sends WINDOW_UPDATE
		// (so a peer's DATA is bounded by the initial flow-control window),
		// and sends are not reordered by priority (spec.md §1 non-goals).
	default:
		// Unknown/unsupported frame types (PUSH_PROMISE, CONTINUATION)
		// are ignored rather than treated as fatal.
	}
	return nil
}

func (a *Adapter) handleHeaders(f *http2.HeadersFrame) error {
	id := f.StreamID
	if id > a.lastStreamID {
		a.lastStreamID = id
	}
	var s *message.Stream
	if a.isServer {
		s = a.cb.FindStream(id)
		if s == nil {
			s = a.cb.NewStream(id)
		}
	} else {
		s = a.cb.FindStream(id)
		if s == nil {
			return nil // response for an id we don't track; drop.
		}
	}
	a.curHdrs = s
	if _, err := a.decoder.Write(f.HeaderBlockFragment()); err != nil {
		return err
	}
	a.curHdrs = nil
	if a.cb.OnHeaders != nil {
		a.cb.OnHeaders(s)
	}
	if f.StreamEnded() {
		a.endStream(s, false)
	}
	return nil
}

func (a *Adapter) handleData(f *http2.DataFrame) error {
	s := a.cb.FindStream(f.StreamID)
	if s == nil {
		return nil
	}
	if data := f.Data(); len(data) > 0 && a.cb.OnDataChunk != nil {
		a.cb.OnDataChunk(s, data)
	}
	if f.StreamEnded() {
		a.endStream(s, false)
	}
	return nil
}

func (a *Adapter) handleReset(id uint32) {
	if s := a.cb.FindStream(id); s != nil {
		a.endStream(s, true)
	}
}

func (a *Adapter) endStream(s *message.Stream, errored bool) {
	s.Reset = errored
	if a.cb.OnStreamClose != nil {
		a.cb.OnStreamClose(s, errored)
	}
	if !errored && a.cb.OnMessageComplete != nil {
		a.cb.OnMessageComplete(s)
	}
}
