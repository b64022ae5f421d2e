package message

import "testing"

func TestMessagePseudoAndHeaders(t *testing.T) {
	m := New()
	m.SetPseudo(Method, "POST")
	m.SetPseudo(Path, "/x")
	m.AddHeader("Content-Type", "application/json")

	if m.Method() != "POST" {
		t.Errorf("Method() = %q", m.Method())
	}
	if got := m.Header("content-type"); got != "application/json" {
		t.Errorf("case-insensitive lookup failed: %q", got)
	}
	if m.Header("missing") != "" {
		t.Errorf("expected empty for missing header")
	}
}

func TestStreamWire(t *testing.T) {
	s := NewStream(1)
	if s.HasWire() {
		t.Fatal("HasWire true before SetWire")
	}
	s.SetWire([]byte("hello"))
	if !s.HasWire() {
		t.Fatal("HasWire false after SetWire")
	}
	if string(s.PendingWire()) != "hello" {
		t.Errorf("PendingWire = %q", s.PendingWire())
	}
	s.AdvanceWire(3)
	if string(s.PendingWire()) != "lo" {
		t.Errorf("PendingWire after advance = %q", s.PendingWire())
	}
	if s.WireDone() {
		t.Fatal("WireDone true early")
	}
	s.AdvanceWire(2)
	if !s.WireDone() {
		t.Fatal("WireDone false after full drain")
	}
	if s.PendingWire() != nil {
		t.Errorf("PendingWire should be nil once drained")
	}
}

func TestListFIFOAndRemove(t *testing.T) {
	var l List
	a, b, c := NewStream(1), NewStream(2), NewStream(3)
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	if l.Len() != 3 {
		t.Fatalf("Len() = %d", l.Len())
	}
	if l.Head() != a || l.Tail() != c {
		t.Fatal("head/tail wrong after PushBack")
	}

	l.Remove(b)
	if l.Len() != 2 {
		t.Fatalf("Len() after remove = %d", l.Len())
	}
	if Next(a) != c {
		t.Fatal("removing the middle element should relink head to tail")
	}

	if got := l.ByID(3); got != c {
		t.Fatalf("ByID(3) = %v, want c", got)
	}
	if got := l.ByID(99); got != nil {
		t.Fatalf("ByID(99) = %v, want nil", got)
	}
}

func TestListRemoveHeadAndTail(t *testing.T) {
	var l List
	a, b := NewStream(1), NewStream(2)
	l.PushBack(a)
	l.PushBack(b)

	l.Remove(a)
	if l.Head() != b {
		t.Fatalf("Head() = %v, want b", l.Head())
	}

	l.Remove(b)
	if l.Len() != 0 || l.Head() != nil || l.Tail() != nil {
		t.Fatal("list should be empty after removing both elements")
	}
}
