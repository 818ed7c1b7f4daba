package audit

import (
	"encoding/binary"
	"hash/crc32"
)

// Record framing: body | crc32c(body). Corrupted tails from a torn write are
// detected and skipped during reads.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func frame(body []byte) []byte {
	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(body, castagnoli))
	return append(out, cb[:]...)
}

func unframe(b []byte) ([]byte, bool) {
	if len(b) < 4 {
		return nil, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(body, castagnoli) != expect {
		return nil, false
	}
	return append([]byte(nil), body...), true
}
