package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/theinterneti/courier/internal/audit"
	"github.com/theinterneti/courier/internal/recipient"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	"github.com/theinterneti/courier/pkg/id"
	"github.com/theinterneti/courier/pkg/log"
)

// SendInput carries the caller-supplied parts of a message. ID and
// CreatedAtMs are assigned at send time when absent; idempotent producers
// may supply both, and a resend of an already-stored ID is a no-op.
type SendInput struct {
	Type        MessageType
	Payload     json.RawMessage
	Priority    Priority
	ID          id.ID
	CreatedAtMs int64
}

// Send validates and enqueues one message for recipientName. It fails with
// ErrBackpressure, without side effects, when the recipient's queued plus
// reserved count is at the configured ceiling. nowMs <= 0 uses the clock.
func (x *Exchange) Send(ctx context.Context, sender, recipientName string, in SendInput, nowMs int64) (SendResult, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	res := SendResult{Recipient: recipientName}

	if sender != "" && !recipient.ValidName(sender) {
		return res, fmt.Errorf("delivery: invalid sender %q", sender)
	}
	if !recipient.ValidName(recipientName) {
		return res, fmt.Errorf("delivery: invalid recipient %q", recipientName)
	}
	if !in.Type.Valid() {
		return res, fmt.Errorf("delivery: unknown message type %q", in.Type)
	}
	if in.Priority > PriorityLow {
		return res, fmt.Errorf("delivery: invalid priority %d", in.Priority)
	}
	if err := validatePayload(in.Type, in.Payload); err != nil {
		return res, err
	}
	tun := x.Tunables()
	if tun.PayloadMaxBytes > 0 && len(in.Payload) > tun.PayloadMaxBytes {
		return res, fmt.Errorf("delivery: payload exceeds %d bytes", tun.PayloadMaxBytes)
	}
	if _, err := recipient.Ensure(x.db, recipientName); err != nil {
		return res, err
	}

	mu := x.lockFor(recipientName)
	mu.Lock()
	defer mu.Unlock()

	mid := in.ID
	if mid.IsZero() {
		mid = x.ids.Next()
	} else if _, err := x.db.Get(msgKey(recipientName, mid)); err == nil {
		// resend of a known ID: already enqueued, nothing to do
		res.MessageID = mid
		res.Accepted = true
		return res, nil
	}
	createdMs := in.CreatedAtMs
	if createdMs <= 0 {
		createdMs = nowMs
	}

	if x.activeCount(recipientName) >= tun.QueueSize {
		x.metrics.RecordBackpressure(recipientName)
		return res, fmt.Errorf("%w: %s", ErrBackpressure, recipientName)
	}

	m := &Message{
		ID:          mid,
		Sender:      sender,
		Recipient:   recipientName,
		Type:        in.Type,
		Payload:     in.Payload,
		Priority:    in.Priority,
		CreatedAtMs: createdMs,
		Attempts:    0,
		VisibleAtMs: nowMs,
		State:       StateQueued,
	}

	b := x.db.NewBatch()
	defer b.Close()
	if err := stageMessage(b, m); err != nil {
		return res, err
	}
	if err := b.Set(readyKey(recipientName, m.Priority, m.VisibleAtMs, m.ID), nil, nil); err != nil {
		return res, err
	}
	if err := setActiveCount(b, recipientName, x.activeCount(recipientName)+1); err != nil {
		return res, err
	}
	if err := x.db.CommitBatch(ctx, b); err != nil {
		return res, fmt.Errorf("commit send: %w", err)
	}

	x.metrics.RecordSend(recipientName)
	_, _ = x.trail.Append(ctx, recipientName, audit.EventSend, map[string]string{
		"message_id": m.ID.String(),
		"sender":     sender,
		"type":       string(m.Type),
		"priority":   m.Priority.String(),
	})
	x.logger.Debug("message enqueued",
		log.Str("recipient", recipientName),
		log.Str("message_id", m.ID.String()),
		log.Str("type", string(m.Type)),
		log.Str("priority", m.Priority.String()),
	)

	res.MessageID = m.ID
	res.Accepted = true
	return res, nil
}

// Broadcast sends the same message independently to each recipient. One
// recipient's backpressure does not block the others; the per-recipient
// outcome list surfaces partial success.
func (x *Exchange) Broadcast(ctx context.Context, sender string, in SendInput, recipients []string, nowMs int64) []SendResult {
	out := make([]SendResult, 0, len(recipients))
	for _, r := range recipients {
		res, err := x.Send(ctx, sender, r, in, nowMs)
		if err != nil {
			res.Err = err
			res.ErrString = err.Error()
		}
		out = append(out, res)
	}
	return out
}

// Subscribe records the message types agentID is interested in, unioned
// with any existing interest set. Purely informational: routing and
// eligibility never consult it.
func (x *Exchange) Subscribe(_ context.Context, agentID string, types []MessageType) error {
	if !recipient.ValidName(agentID) {
		return fmt.Errorf("delivery: invalid agent id %q", agentID)
	}
	for _, t := range types {
		if !t.Valid() {
			return fmt.Errorf("delivery: unknown message type %q", t)
		}
	}

	mu := x.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	set := map[MessageType]struct{}{}
	if existing, err := x.db.Get(subKey(agentID)); err == nil {
		var prev []MessageType
		if json.Unmarshal(existing, &prev) == nil {
			for _, t := range prev {
				set[t] = struct{}{}
			}
		}
	}
	for _, t := range types {
		set[t] = struct{}{}
	}
	merged := make([]MessageType, 0, len(set))
	for t := range set {
		merged = append(merged, t)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return x.db.Set(subKey(agentID), raw)
}

// Subscriptions returns agentID's recorded interest set.
func (x *Exchange) Subscriptions(_ context.Context, agentID string) ([]MessageType, error) {
	raw, err := x.db.Get(subKey(agentID))
	if err != nil {
		if err == pebblestore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var types []MessageType
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, err
	}
	return types, nil
}
