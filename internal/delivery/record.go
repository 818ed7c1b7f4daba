package delivery

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Message record encoding: json body | crc32c(body). The checksum guards
// against torn writes surfacing as silently mangled messages.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeMessage(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+4)
	out = append(out, body...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(body, castagnoli))
	return append(out, cb[:]...), nil
}

func decodeMessage(b []byte) (*Message, bool) {
	if len(b) < 4 {
		return nil, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(body, castagnoli) != expect {
		return nil, false
	}
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, false
	}
	return &m, true
}
