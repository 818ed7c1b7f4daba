package id

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// Size is the byte length of an ID.
const Size = 16

// ID is a 128-bit, lexicographically sortable message identifier encoded
// big-endian as [8 bytes unix_ms][8 bytes per-process sequence]. Byte order
// equals creation order, which the ready index relies on for FIFO tie-breaks.
type ID [Size]byte

// Zero is the all-zero ID.
var Zero ID

// ErrBadID reports an input that is not a valid encoded ID.
var ErrBadID = errors.New("id: malformed identifier")

// Bytes returns a copy of the raw 16-byte representation.
func (i ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, i[:])
	return b
}

// String returns the lowercase hex encoding.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// IsZero reports whether the ID is unset.
func (i ID) IsZero() bool { return i == Zero }

// TimeMs returns the millisecond timestamp embedded in the ID.
func (i ID) TimeMs() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Compare returns -1, 0, or 1 ordering IDs lexically (and thus temporally).
func (i ID) Compare(other ID) int {
	for n := 0; n < Size; n++ {
		switch {
		case i[n] < other[n]:
			return -1
		case i[n] > other[n]:
			return 1
		}
	}
	return 0
}

// MarshalText encodes the ID as lowercase hex for JSON/YAML surfaces.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText decodes a lowercase hex ID.
func (i *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Parse decodes a 32-character hex string into an ID.
func Parse(s string) (ID, error) {
	if len(s) != Size*2 {
		return Zero, ErrBadID
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Zero, ErrBadID
	}
	var out ID
	copy(out[:], raw)
	return out, nil
}

// FromBytes copies a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Zero, ErrBadID
	}
	var out ID
	copy(out[:], b)
	return out, nil
}

// Generator produces monotonically increasing IDs for a single process.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

// nowMs is swappable in tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID strictly greater than any previously returned by
// this Generator, even if the wall clock steps backwards.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := nowMs()
	if ms < g.lastMs {
		// clock went backwards; keep ordering by reusing the last timestamp
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(ms))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}
