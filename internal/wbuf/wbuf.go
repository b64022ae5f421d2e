// Package wbuf implements the two-stage send buffer every Session owns:
// a small merge buffer for coalescing short writes, and a borrowed tail span
// for chunks too large to copy. Grounded on the teacher's bufPool/WriteBuf
// pattern (server/engine/pool.go, server/engine/write.go), swapped onto
// bytebufferpool so the merge region is reused across Sessions instead of
// round-tripping through a bare sync.Pool of byte slices.
package wbuf

import "github.com/valyala/bytebufferpool"

// MergeCap bounds the merge buffer: large enough to amortize syscalls,
// and no larger than one maximum-size (16 KiB) TLS record payload.
const MergeCap = 16 << 10

var pool bytebufferpool.Pool

// Buffer is one Session's write buffer. A tail span may be installed while
// the merge region still holds unsent bytes; the merge region is written
// first, and TryMerge refuses while the tail holds unsent bytes, so bytes
// leave in the order they were staged.
type Buffer struct {
	merge *bytebufferpool.ByteBuffer

	tail    []byte // borrowed from codec-owned memory; never copied
	tailOff int     // how much of tail has already been written
}

// New allocates the merge region from the shared pool.
func New() *Buffer {
	return &Buffer{merge: pool.Get()}
}

// Close returns the merge buffer to the pool. Call once, on Session free.
func (b *Buffer) Close() {
	if b.merge != nil {
		pool.Put(b.merge)
		b.merge = nil
	}
}

// MergeLen is the number of unsent bytes staged in the merge region.
func (b *Buffer) MergeLen() int { return b.merge.Len() }

// TailLen is the number of unsent bytes left in the borrowed tail span.
func (b *Buffer) TailLen() int { return len(b.tail) - b.tailOff }

// Idle reports whether both regions are fully drained.
func (b *Buffer) Idle() bool { return b.MergeLen() == 0 && b.TailLen() == 0 }

// TryMerge copies p into the merge region if it fits and the tail is empty.
// Returns false if p must instead become the tail span.
func (b *Buffer) TryMerge(p []byte) bool {
	if b.TailLen() > 0 {
		return false
	}
	if b.merge.Len()+len(p) > MergeCap {
		return false
	}
	b.merge.Write(p)
	return true
}

// SetTail installs p as the borrowed tail span. The caller (codec) owns the
// backing memory; the same (ptr, len) pair must be re-presented verbatim on
// every write retry until fully sent — see WriteMerge/WriteTail.
func (b *Buffer) SetTail(p []byte) {
	b.tail = p
	b.tailOff = 0
}

// MergeBytes returns the unsent slice of the merge region, for a raw write.
func (b *Buffer) MergeBytes() []byte { return b.merge.B }

// TailBytes returns the unsent slice of the tail span, for a raw write. The
// returned slice always has the same base address for a given SetTail call
// until AdvanceTail drains it — required so a blocked TLS write can retry
// with an identical pointer.
func (b *Buffer) TailBytes() []byte { return b.tail[b.tailOff:] }

// AdvanceMerge records n bytes of the merge region as sent. When fully
// drained the merge buffer is reset (capacity retained) for reuse.
func (b *Buffer) AdvanceMerge(n int) {
	rest := b.merge.B[n:]
	b.merge.Reset()
	b.merge.Write(rest)
}

// AdvanceTail records n bytes of the tail span as sent.
func (b *Buffer) AdvanceTail(n int) {
	b.tailOff += n
	if b.tailOff >= len(b.tail) {
		b.tail, b.tailOff = nil, 0
	}
}
