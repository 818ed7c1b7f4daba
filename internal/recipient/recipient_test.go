package recipient

import (
	"testing"

	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
)

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureIdempotent(t *testing.T) {
	db := openTestDB(t)
	a, err := Ensure(db, "wba.1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	b, err := Ensure(db, "wba.1")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if a.CreatedAtMs != b.CreatedAtMs {
		t.Fatalf("ensure must preserve creation time: %d vs %d", a.CreatedAtMs, b.CreatedAtMs)
	}
}

func TestEnsureRejectsInvalidNames(t *testing.T) {
	db := openTestDB(t)
	for _, name := range []string{"", "has/slash", ".leadingdot", "white space"} {
		if _, err := Ensure(db, name); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
}

func TestListSorted(t *testing.T) {
	db := openTestDB(t)
	for _, name := range []string{"nga.2", "ipa.1", "wba.1"} {
		if _, err := Ensure(db, name); err != nil {
			t.Fatalf("ensure %q: %v", name, err)
		}
	}
	got, err := List(db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 recipients, got %d", len(got))
	}
	want := []string{"ipa.1", "nga.2", "wba.1"}
	for i, m := range got {
		if m.Name != want[i] {
			t.Fatalf("order mismatch at %d: %s", i, m.Name)
		}
	}
}

func TestValidName(t *testing.T) {
	valid := []string{"wba.1", "lka-7", "A1", "agent_type.instance-3"}
	for _, n := range valid {
		if !ValidName(n) {
			t.Fatalf("%q should be valid", n)
		}
	}
}
