package wbuf

import "testing"

func TestTryMergeCoalescesUntilCap(t *testing.T) {
	b := New()
	defer b.Close()

	if !b.TryMerge([]byte("hello")) {
		t.Fatal("expected first merge to succeed")
	}
	if !b.TryMerge([]byte(" world")) {
		t.Fatal("expected second merge to succeed")
	}
	if string(b.MergeBytes()) != "hello world" {
		t.Errorf("MergeBytes() = %q", b.MergeBytes())
	}

	big := make([]byte, MergeCap)
	if b.TryMerge(big) {
		t.Fatal("expected merge to refuse a chunk that overflows MergeCap")
	}
}

func TestSetTailBlocksFurtherMerge(t *testing.T) {
	b := New()
	defer b.Close()

	tail := []byte("borrowed")
	b.SetTail(tail)
	if b.TryMerge([]byte("x")) {
		t.Fatal("merge must not proceed while the tail span is occupied")
	}
	if b.TailLen() != len(tail) {
		t.Errorf("TailLen() = %d, want %d", b.TailLen(), len(tail))
	}
}

func TestAdvanceMergeCompacts(t *testing.T) {
	b := New()
	defer b.Close()

	b.TryMerge([]byte("abcdef"))
	b.AdvanceMerge(3)
	if string(b.MergeBytes()) != "def" {
		t.Errorf("MergeBytes() = %q", b.MergeBytes())
	}
	if b.MergeLen() != 3 {
		t.Errorf("MergeLen() = %d", b.MergeLen())
	}
}

func TestTailSpanIdenticalAcrossRetries(t *testing.T) {
	b := New()
	defer b.Close()

	src := []byte("retry-me")
	b.SetTail(src)

	first := b.TailBytes()
	second := b.TailBytes()
	if &first[0] != &second[0] {
		t.Fatal("TailBytes must return the same backing array across retries")
	}

	b.AdvanceTail(3)
	if string(b.TailBytes()) != "ry-me" {
		t.Errorf("TailBytes() after advance = %q", b.TailBytes())
	}
	b.AdvanceTail(5)
	if b.TailLen() != 0 || !b.Idle() {
		t.Fatal("expected tail fully drained and buffer idle")
	}
}
