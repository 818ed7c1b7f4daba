package delivery

import (
	"encoding/binary"

	"github.com/theinterneti/courier/pkg/id"
)

// Key prefixes. Per-recipient structures live under rq/{recipient}/ so a
// single bounded iteration covers one queue; reservations are global (the
// recovery scanner sweeps them all in expiry order).
const (
	prefixQueue   = "rq/"   // per-recipient root
	prefixMsg     = "msg/"  // message records
	prefixReady   = "rdy/"  // eligibility index: lane | visible_ms | id
	prefixDLQ     = "dlq/"  // dead letter entries
	suffixMeta    = "meta"  // per-recipient active count
	prefixRes     = "rv/"   // reservation records, by token
	prefixResIdx  = "rvx/"  // reservation expiry index: expires_ms | token
	prefixSub     = "sub/"  // subscription sets, by agent id
)

func queuePrefix(recipient string) []byte {
	k := make([]byte, 0, len(prefixQueue)+len(recipient)+1)
	k = append(k, prefixQueue...)
	k = append(k, recipient...)
	return append(k, '/')
}

// msgKey: rq/{recipient}/msg/{id}
func msgKey(recipient string, mid id.ID) []byte {
	p := queuePrefix(recipient)
	k := make([]byte, 0, len(p)+len(prefixMsg)+id.Size)
	k = append(k, p...)
	k = append(k, prefixMsg...)
	return append(k, mid[:]...)
}

// readyKey: rq/{recipient}/rdy/{lane 1B}{visible_ms 8B}{id 16B}
// Lane byte first makes priority strictly dominate recency: iterating the
// lane prefix visits messages oldest-visible first within that lane.
func readyKey(recipient string, lane Priority, visibleMs int64, mid id.ID) []byte {
	p := queuePrefix(recipient)
	k := make([]byte, 0, len(p)+len(prefixReady)+1+8+id.Size)
	k = append(k, p...)
	k = append(k, prefixReady...)
	k = append(k, byte(lane))
	var vb [8]byte
	binary.BigEndian.PutUint64(vb[:], uint64(visibleMs))
	k = append(k, vb[:]...)
	return append(k, mid[:]...)
}

// readyLaneRange bounds iteration over one lane of one recipient.
func readyLaneRange(recipient string, lane Priority) (lo, hi []byte) {
	p := queuePrefix(recipient)
	lo = make([]byte, 0, len(p)+len(prefixReady)+1)
	lo = append(lo, p...)
	lo = append(lo, prefixReady...)
	lo = append(lo, byte(lane))
	hi = append(append([]byte{}, lo...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	return lo, hi
}

// parseReadyKey extracts visible_ms and message id from a ready key.
func parseReadyKey(key []byte) (visibleMs int64, mid id.ID, ok bool) {
	if len(key) < 8+id.Size {
		return 0, id.Zero, false
	}
	idOff := len(key) - id.Size
	copy(mid[:], key[idOff:])
	visibleMs = int64(binary.BigEndian.Uint64(key[idOff-8 : idOff]))
	return visibleMs, mid, true
}

// dlqKey: rq/{recipient}/dlq/{id}
func dlqKey(recipient string, mid id.ID) []byte {
	p := queuePrefix(recipient)
	k := make([]byte, 0, len(p)+len(prefixDLQ)+id.Size)
	k = append(k, p...)
	k = append(k, prefixDLQ...)
	return append(k, mid[:]...)
}

// dlqRange bounds iteration over a recipient's dead letters.
func dlqRange(recipient string) (lo, hi []byte) {
	p := queuePrefix(recipient)
	lo = make([]byte, 0, len(p)+len(prefixDLQ))
	lo = append(lo, p...)
	lo = append(lo, prefixDLQ...)
	hi = append(append([]byte{}, lo...), 0xFF)
	return lo, hi
}

// metaKey: rq/{recipient}/meta
func metaKey(recipient string) []byte {
	p := queuePrefix(recipient)
	return append(p, suffixMeta...)
}

// resKey: rv/{token}
func resKey(token string) []byte {
	k := make([]byte, 0, len(prefixRes)+len(token))
	k = append(k, prefixRes...)
	return append(k, token...)
}

// resIdxKey: rvx/{expires_ms 8B}{token}
func resIdxKey(expiresMs int64, token string) []byte {
	k := make([]byte, 0, len(prefixResIdx)+8+len(token))
	k = append(k, prefixResIdx...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], uint64(expiresMs))
	k = append(k, eb[:]...)
	return append(k, token...)
}

// resIdxRange bounds iteration over the reservation expiry index.
func resIdxRange(beforeMs int64) (lo, hi []byte) {
	lo = []byte(prefixResIdx)
	hi = append([]byte{}, lo...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], uint64(beforeMs))
	hi = append(hi, eb[:]...)
	return lo, hi
}

// parseResIdxKey extracts expiry and token from an expiry-index key.
func parseResIdxKey(key []byte) (expiresMs int64, token string, ok bool) {
	if len(key) < len(prefixResIdx)+8+1 {
		return 0, "", false
	}
	rest := key[len(prefixResIdx):]
	expiresMs = int64(binary.BigEndian.Uint64(rest[:8]))
	return expiresMs, string(rest[8:]), true
}

// subKey: sub/{agent}
func subKey(agentID string) []byte {
	k := make([]byte, 0, len(prefixSub)+len(agentID))
	k = append(k, prefixSub...)
	return append(k, agentID...)
}
