package deliverysvc

import (
	"encoding/json"

	"github.com/theinterneti/courier/internal/delivery"
)

// Wire types for the HTTP API. Field names follow the JSON casing used on
// the message records themselves.

type SendRequest struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Type      string          `json:"type"`
	Priority  string          `json:"priority,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type SendResponse struct {
	Recipient string `json:"recipient"`
	MessageID string `json:"messageId,omitempty"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

type BroadcastRequest struct {
	Sender     string          `json:"sender"`
	Recipients []string        `json:"recipients"`
	Type       string          `json:"type"`
	Priority   string          `json:"priority,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type BroadcastResponse struct {
	Results []SendResponse `json:"results"`
}

type ReceiveRequest struct {
	AgentID             string `json:"agentId"`
	VisibilityTimeoutMs int64  `json:"visibilityTimeoutMs,omitempty"`
}

// ReceiveResponse carries the claimed message, or a nil Message when
// nothing was eligible.
type ReceiveResponse struct {
	Message     *delivery.Message `json:"message,omitempty"`
	Token       string            `json:"token,omitempty"`
	ExpiresAtMs int64             `json:"expiresAtMs,omitempty"`
}

type AckRequest struct {
	AgentID string `json:"agentId"`
	Token   string `json:"token"`
}

type NackRequest struct {
	AgentID     string `json:"agentId"`
	Token       string `json:"token"`
	FailureType string `json:"failureType,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SettleResponse is the ack/nack outcome: OK false means the claim was
// already lost.
type SettleResponse struct {
	OK bool `json:"ok"`
}

type SubscribeRequest struct {
	AgentID string   `json:"agentId"`
	Types   []string `json:"types"`
}

type SubscribeResponse struct {
	AgentID string   `json:"agentId"`
	Types   []string `json:"types"`
}

type RecoverRequest struct {
	AgentID string `json:"agentId,omitempty"`
}

type RecoverResponse struct {
	Total        int            `json:"total"`
	PerRecipient map[string]int `json:"perRecipient,omitempty"`
}

type ConfigureRequest struct {
	QueueSize     *int     `json:"queueSize,omitempty"`
	RetryAttempts *int     `json:"retryAttempts,omitempty"`
	BackoffBase   *float64 `json:"backoffBase,omitempty"`
	BackoffFactor *float64 `json:"backoffFactor,omitempty"`
	BackoffMax    *float64 `json:"backoffMax,omitempty"`
}

type ConfigureResponse struct {
	QueueSize     int     `json:"queueSize"`
	RetryAttempts int     `json:"retryAttempts"`
	BackoffBase   float64 `json:"backoffBase"`
	BackoffFactor float64 `json:"backoffFactor"`
	BackoffMax    float64 `json:"backoffMax"`
}

type DeadLetterListRequest struct {
	Recipient string `json:"recipient"`
	Limit     int    `json:"limit,omitempty"`
	Filter    string `json:"filter,omitempty"`
}

type DeadLetterListResponse struct {
	Entries []delivery.DeadLetterEntry `json:"entries"`
}

type AuditReadRequest struct {
	Recipient string `json:"recipient"`
	FromSeq   uint64 `json:"fromSeq,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
