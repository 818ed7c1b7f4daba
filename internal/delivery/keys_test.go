package delivery

import (
	"bytes"
	"testing"

	"github.com/theinterneti/courier/pkg/id"
)

func TestReadyKeyOrdering(t *testing.T) {
	var a, b id.ID
	a[15] = 1
	b[15] = 2

	// lane dominates visibility
	kHigh := readyKey("w", PriorityHigh, 9000, a)
	kNormal := readyKey("w", PriorityNormal, 1000, a)
	if bytes.Compare(kHigh, kNormal) >= 0 {
		t.Fatalf("high lane must sort before normal lane")
	}

	// within a lane, earlier visibility sorts first
	kEarly := readyKey("w", PriorityNormal, 1000, b)
	kLate := readyKey("w", PriorityNormal, 2000, a)
	if bytes.Compare(kEarly, kLate) >= 0 {
		t.Fatalf("earlier visibility must sort first")
	}

	// same visibility: id order breaks the tie
	k1 := readyKey("w", PriorityNormal, 1000, a)
	k2 := readyKey("w", PriorityNormal, 1000, b)
	if bytes.Compare(k1, k2) >= 0 {
		t.Fatalf("id must break visibility ties")
	}
}

func TestReadyLaneRangeBounds(t *testing.T) {
	lo, hi := readyLaneRange("w", PriorityNormal)
	in := readyKey("w", PriorityNormal, 5000, id.Zero)
	if bytes.Compare(in, lo) < 0 || bytes.Compare(in, hi) >= 0 {
		t.Fatalf("key outside its lane range")
	}
	other := readyKey("w", PriorityLow, 5000, id.Zero)
	if bytes.Compare(other, lo) >= 0 && bytes.Compare(other, hi) < 0 {
		t.Fatalf("low-lane key inside normal-lane range")
	}
}

func TestParseReadyKeyRoundTrip(t *testing.T) {
	var mid id.ID
	mid[0] = 0xAB
	key := readyKey("worker", PriorityLow, 123456, mid)
	visibleMs, got, ok := parseReadyKey(key)
	if !ok || visibleMs != 123456 || got != mid {
		t.Fatalf("parse = (%d, %s, %v)", visibleMs, got, ok)
	}
	if _, _, ok := parseReadyKey([]byte("short")); ok {
		t.Fatalf("short key parsed")
	}
}

func TestResIdxKeyOrdering(t *testing.T) {
	k1 := resIdxKey(1000, "t1")
	k2 := resIdxKey(2000, "t0")
	if bytes.Compare(k1, k2) >= 0 {
		t.Fatalf("earlier expiry must sort first")
	}

	lo, hi := resIdxRange(2000)
	if bytes.Compare(k1, lo) < 0 || bytes.Compare(k1, hi) >= 0 {
		t.Fatalf("expired entry outside scan range")
	}
	// entries at or after the bound are not due yet
	if at := resIdxKey(2000, "t1"); bytes.Compare(at, hi) < 0 {
		t.Fatalf("boundary entry inside scan range")
	}

	expiresMs, token, ok := parseResIdxKey(k1)
	if !ok || expiresMs != 1000 || token != "t1" {
		t.Fatalf("parse = (%d, %q, %v)", expiresMs, token, ok)
	}
}

func TestQueueKeysArePerRecipient(t *testing.T) {
	var mid id.ID
	ka := msgKey("alpha", mid)
	kb := msgKey("beta", mid)
	if bytes.Equal(ka, kb) {
		t.Fatalf("recipients share message keys")
	}
	if !bytes.HasPrefix(ka, []byte("rq/alpha/")) {
		t.Fatalf("unexpected key layout: %q", ka)
	}
}
