package audit

import (
	"context"
	"testing"

	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewLog(db)
}

func TestAppendReadOrdered(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "wba.1", EventSend, map[string]string{"n": string(rune('a' + i))}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := l.Read(ctx, "wba.1", 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("want 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Fatalf("seq order broken at %d: %d", i, e.Seq)
		}
		if e.Event != EventSend || e.Recipient != "wba.1" {
			t.Fatalf("entry fields: %+v", e)
		}
	}
}

func TestReadFromCursor(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = l.Append(ctx, "nga.1", EventAck, nil)
	}
	entries, err := l.Read(ctx, "nga.1", 3, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 3 || entries[1].Seq != 4 {
		t.Fatalf("cursor read wrong: %+v", entries)
	}
}

func TestRecipientsIsolated(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	_, _ = l.Append(ctx, "a.1", EventSend, nil)
	_, _ = l.Append(ctx, "a.10", EventSend, nil)
	entries, err := l.Read(ctx, "a.1", 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("prefix bleed between recipients: %+v", entries)
	}
}

func TestFrameDetectsCorruption(t *testing.T) {
	framed := frame([]byte(`{"seq":1}`))
	framed[2] ^= 0xFF
	if _, ok := unframe(framed); ok {
		t.Fatalf("expected crc failure")
	}
}

func TestSeqRestoredAfterReopen(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	first := NewLog(db)
	_, _ = first.Append(ctx, "wba.1", EventSend, nil)
	_, _ = first.Append(ctx, "wba.1", EventSend, nil)

	// new Log over the same store must continue the sequence
	second := NewLog(db)
	seq, err := second.Append(ctx, "wba.1", EventAck, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 3 {
		t.Fatalf("sequence not restored: got %d want 3", seq)
	}
}
