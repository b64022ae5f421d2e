// Package rbuf implements the growable, compacting byte accumulator the
// HTTP/1.1 parser reads from. Grounded on the teacher's Session.Buf/Offset
// pair (server/engine/session.go) generalized into its own type so the
// growth/compaction/shrink rules named in spec.md §4.5 live in one place.
package rbuf

const defaultCap = 16 << 10

// Buffer holds bytes [0:used) consumed and [used:size) unconsumed, plus a
// monotonic offset counter for diagnostics (how many bytes have ever been
// discarded from the front).
type Buffer struct {
	data   []byte
	used   int
	size   int
	offset int64
}

// Unread returns the unconsumed region.
func (b *Buffer) Unread() []byte { return b.data[b.used:b.size] }

// Len is the number of unconsumed bytes.
func (b *Buffer) Len() int { return b.size - b.used }

// Offset is the monotonic count of bytes ever discarded from the front.
func (b *Buffer) Offset() int64 { return b.offset }

// Append folds chunk into the buffer: grown/compacted as needed, per
// spec.md §4.5 "Buffer management".
func (b *Buffer) Append(chunk []byte) {
	if b.data == nil {
		cap0 := defaultCap
		if len(chunk) > cap0 {
			cap0 = len(chunk)
		}
		b.data = make([]byte, cap0)
		b.size = copy(b.data, chunk)
		b.used = 0
		return
	}

	free := len(b.data) - b.size
	if free >= len(chunk) {
		b.size += copy(b.data[b.size:], chunk)
		return
	}

	// Compact: slide [used:size) to offset 0.
	unread := b.size - b.used
	copy(b.data, b.data[b.used:b.size])
	b.offset += int64(b.used)
	b.used = 0
	b.size = unread

	if len(b.data)-b.size < len(chunk) {
		grown := make([]byte, (b.size+len(chunk))*2)
		copy(grown, b.data[:b.size])
		b.data = grown
	}
	b.size += copy(b.data[b.size:], chunk)
}

// Consume marks n unconsumed bytes as consumed, then frees the buffer back
// to nil if it has fully drained and had grown beyond the default capacity.
func (b *Buffer) Consume(n int) {
	b.used += n
	if b.used > b.size {
		b.used = b.size
	}
	if b.used == b.size {
		if len(b.data) > defaultCap {
			b.data = nil
		}
		b.used, b.size = 0, 0
	}
}
