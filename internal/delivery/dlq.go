package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/theinterneti/courier/internal/recipient"
	"github.com/theinterneti/courier/pkg/id"
)

// stageDeadLetter moves a message into the recipient's dead-letter queue:
// the live record is replaced by a terminal snapshot under the dlq key and
// the recipient's active count drops by one. Caller holds the recipient
// lock and commits the batch.
func (x *Exchange) stageDeadLetter(b *pebble.Batch, m *Message, reason, lastError string, nowMs int64) error {
	m.State = StateDead
	entry := DeadLetterEntry{
		Message:          *m,
		FailureReason:    reason,
		LastError:        lastError,
		DeadLetteredAtMs: nowMs,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := b.Set(dlqKey(m.Recipient, m.ID), raw, nil); err != nil {
		return err
	}
	if err := b.Delete(msgKey(m.Recipient, m.ID), nil); err != nil {
		return err
	}
	return setActiveCount(b, m.Recipient, x.activeCount(m.Recipient)-1)
}

// deadLetter fetches one dead-letter entry.
func (x *Exchange) deadLetter(recipientName string, mid id.ID) (*DeadLetterEntry, error) {
	raw, err := x.db.Get(dlqKey(recipientName, mid))
	if err != nil {
		return nil, err
	}
	var e DeadLetterEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("delivery: corrupt dead-letter entry %s/%s: %w", recipientName, mid, err)
	}
	return &e, nil
}

// ListDeadLetters returns up to limit dead-letter entries for a recipient
// in message-id order (oldest first). limit <= 0 means no limit.
func (x *Exchange) ListDeadLetters(_ context.Context, recipientName string, limit int) ([]DeadLetterEntry, error) {
	if !recipient.ValidName(recipientName) {
		return nil, fmt.Errorf("delivery: invalid recipient %q", recipientName)
	}
	lo, hi := dlqRange(recipientName)
	it, err := x.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []DeadLetterEntry
	for ok := it.First(); ok; ok = it.Next() {
		var e DeadLetterEntry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeadLetterCount returns the number of entries in a recipient's DLQ.
func (x *Exchange) DeadLetterCount(recipientName string) int {
	lo, hi := dlqRange(recipientName)
	it, err := x.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0
	}
	defer it.Close()
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	return n
}
