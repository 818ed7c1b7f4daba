package delivery

import (
	"encoding/json"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	in := &Message{
		Sender:      "orchestrator",
		Recipient:   "worker",
		Type:        TypeTaskRequest,
		Payload:     json.RawMessage(`{"task":"lint"}`),
		Priority:    PriorityHigh,
		CreatedAtMs: 1234,
		VisibleAtMs: 1234,
		State:       StateQueued,
	}
	raw, err := encodeMessage(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, ok := decodeMessage(raw)
	if !ok {
		t.Fatalf("decode failed")
	}
	if out.Recipient != in.Recipient || out.Type != in.Type || out.State != in.State {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestRecordDetectsCorruption(t *testing.T) {
	raw, err := encodeMessage(&Message{Recipient: "w", Type: TypeTaskRequest, State: StateQueued})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[3] ^= 0xFF
	if _, ok := decodeMessage(raw); ok {
		t.Fatalf("corrupt record decoded")
	}
	if _, ok := decodeMessage([]byte{1, 2}); ok {
		t.Fatalf("short record decoded")
	}
}
