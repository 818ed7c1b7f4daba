package id

import (
	"bytes"
	"testing"
)

func TestNextMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		if next.Compare(prev) <= 0 {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestNextSurvivesClockRollback(t *testing.T) {
	g := NewGenerator()
	orig := nowMs
	base := int64(5_000_000)
	nowMs = func() int64 { return base }
	t.Cleanup(func() { nowMs = orig })

	a := g.Next()
	base = 4_000_000 // clock steps back
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("ordering lost across clock rollback: %s then %s", a, b)
	}
}

func TestParseRoundtrip(t *testing.T) {
	g := NewGenerator()
	orig := g.Next()
	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != orig {
		t.Fatalf("roundtrip mismatch: %s vs %s", orig, parsed)
	}
	if !bytes.Equal(parsed.Bytes(), orig.Bytes()) {
		t.Fatalf("bytes mismatch")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "zz", "0123", "g0000000000000000000000000000000"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestSortableByteOrder(t *testing.T) {
	g := NewGenerator()
	a := g.Next()
	b := g.Next()
	if bytes.Compare(a.Bytes(), b.Bytes()) >= 0 {
		t.Fatalf("byte order should follow creation order")
	}
}
