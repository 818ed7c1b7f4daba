package delivery

import (
	"encoding/json"
	"fmt"

	"github.com/theinterneti/courier/pkg/id"
)

// MessageType tags the payload variant a message carries. The set is closed;
// send rejects anything else.
type MessageType string

const (
	TypeContextUpdate     MessageType = "context_update"
	TypeTaskRequest       MessageType = "task_request"
	TypeTaskComplete      MessageType = "task_complete"
	TypeErrorNotification MessageType = "error_notification"
	TypeResourceRequest   MessageType = "resource_request"
)

// payloadKey maps each message type to the payload field it must carry.
var payloadKey = map[MessageType]string{
	TypeContextUpdate:     "context",
	TypeTaskRequest:       "task",
	TypeTaskComplete:      "task",
	TypeErrorNotification: "error",
	TypeResourceRequest:   "resource",
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	_, ok := payloadKey[t]
	return ok
}

// Priority selects the per-recipient lane. Lower values sort first in the
// ready index, so HIGH strictly dominates NORMAL and LOW.
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow

	laneCount = 3
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	}
	return fmt.Sprintf("PRIORITY(%d)", uint8(p))
}

// ParsePriority converts a wire name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "HIGH", "high":
		return PriorityHigh, nil
	case "", "NORMAL", "normal":
		return PriorityNormal, nil
	case "LOW", "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("delivery: unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// State is the delivery lifecycle state of a message. ACKED and DEAD are
// terminal.
type State string

const (
	StateQueued   State = "QUEUED"
	StateReserved State = "RESERVED"
	StateAcked    State = "ACKED"
	StateDead     State = "DEAD"
)

// FailureType classifies a nack.
type FailureType string

const (
	FailureTransient FailureType = "TRANSIENT"
	FailurePermanent FailureType = "PERMANENT"
)

// ParseFailureType converts a wire name into a FailureType. Empty input
// defaults to TRANSIENT.
func ParseFailureType(s string) (FailureType, error) {
	switch s {
	case "", "TRANSIENT", "transient":
		return FailureTransient, nil
	case "PERMANENT", "permanent":
		return FailurePermanent, nil
	}
	return FailureTransient, fmt.Errorf("delivery: unknown failure type %q", s)
}

// Message is one unit of inter-agent communication.
type Message struct {
	ID          id.ID           `json:"id"`
	Sender      string          `json:"sender"`
	Recipient   string          `json:"recipient"`
	Type        MessageType     `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    Priority        `json:"priority"`
	CreatedAtMs int64           `json:"createdAtMs"`
	Attempts    int             `json:"attempts"`
	VisibleAtMs int64           `json:"visibleAtMs"`
	State       State           `json:"state"`
}

// validatePayload checks that the payload is a JSON object carrying the
// field its type variant requires.
func validatePayload(t MessageType, payload json.RawMessage) error {
	key, ok := payloadKey[t]
	if !ok {
		return fmt.Errorf("delivery: unknown message type %q", t)
	}
	if len(payload) == 0 {
		return fmt.Errorf("delivery: empty payload for %s", t)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("delivery: payload for %s must be a JSON object: %w", t, err)
	}
	if _, present := obj[key]; !present {
		return fmt.Errorf("delivery: payload for %s missing %q field", t, key)
	}
	return nil
}

// Reservation is a time-bounded exclusive claim on a message.
type Reservation struct {
	Token       string `json:"token"`
	MessageID   id.ID  `json:"messageId"`
	Recipient   string `json:"recipient"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// ReceivedMessage pairs a claimed message with its reservation token.
type ReceivedMessage struct {
	Message Message `json:"message"`
	Token   string  `json:"token"`
	// ExpiresAtMs is when the claim lapses unless acked/nacked first.
	ExpiresAtMs int64 `json:"expiresAtMs"`
}

// DeadLetterEntry is the terminal record for a message that exhausted its
// retries or failed permanently.
type DeadLetterEntry struct {
	Message          Message `json:"message"`
	FailureReason    string  `json:"failureReason"`
	LastError        string  `json:"lastError,omitempty"`
	DeadLetteredAtMs int64   `json:"deadLetteredAtMs"`
}

// Dead-letter reasons.
const (
	ReasonPermanentFailure = "permanent_failure"
	ReasonRetryExhausted   = "retry_exhausted"
)

// SendResult reports the outcome of one send, or of one recipient within a
// broadcast. Err is non-nil for the failed recipients only.
type SendResult struct {
	Recipient string `json:"recipient"`
	MessageID id.ID  `json:"messageId,omitempty"`
	Accepted  bool   `json:"accepted"`
	Err       error  `json:"-"`
	ErrString string `json:"error,omitempty"`
}
