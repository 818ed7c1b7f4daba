package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/theinterneti/courier/internal/audit"
	"github.com/theinterneti/courier/internal/recipient"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	"github.com/theinterneti/courier/pkg/log"
)

// Receive claims the best-eligible message for agentID: lowest non-empty
// priority lane first, then oldest visible within that lane. The selection
// and the QUEUED→RESERVED transition happen under the recipient's lock and
// commit as one batch, so two concurrent calls can never claim the same
// message. Returns (nil, nil) when nothing is eligible.
func (x *Exchange) Receive(ctx context.Context, agentID string, visibility time.Duration, nowMs int64) (*ReceivedMessage, error) {
	start := time.Now()
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if !recipient.ValidName(agentID) {
		return nil, fmt.Errorf("delivery: invalid agent id %q", agentID)
	}
	if visibility <= 0 {
		visibility = x.Tunables().VisibilityTimeout
	}

	mu := x.lockFor(agentID)
	mu.Lock()
	defer mu.Unlock()

	for lane := PriorityHigh; lane < laneCount; lane++ {
		rm, err := x.claimFromLane(ctx, agentID, lane, visibility, nowMs)
		if err != nil {
			x.metrics.ObserveOp(time.Since(start), true)
			return nil, err
		}
		if rm != nil {
			x.metrics.RecordReceive(agentID)
			x.metrics.ObserveOp(time.Since(start), false)
			return rm, nil
		}
	}
	x.metrics.ObserveOp(time.Since(start), false)
	return nil, nil
}

// claimFromLane attempts to claim the oldest visible message in one lane.
// Caller holds the recipient lock.
func (x *Exchange) claimFromLane(ctx context.Context, agentID string, lane Priority, visibility time.Duration, nowMs int64) (*ReceivedMessage, error) {
	lo, hi := readyLaneRange(agentID, lane)
	it, err := x.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		visibleMs, mid, valid := parseReadyKey(it.Key())
		if !valid {
			continue
		}
		if visibleMs > nowMs {
			// index is ordered by visibility; the rest of the lane is later
			return nil, nil
		}

		m, err := x.loadMessage(agentID, mid)
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				// orphaned index entry; drop it and keep scanning
				_ = x.db.Delete(append([]byte(nil), it.Key()...))
				continue
			}
			return nil, err
		}

		token := uuid.NewString()
		expiresMs := nowMs + visibility.Milliseconds()
		res := Reservation{
			Token:       token,
			MessageID:   mid,
			Recipient:   agentID,
			ExpiresAtMs: expiresMs,
		}
		resRaw, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}

		m.State = StateReserved
		b := x.db.NewBatch()
		defer b.Close()
		if err := b.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			return nil, err
		}
		if err := stageMessage(b, m); err != nil {
			return nil, err
		}
		if err := b.Set(resKey(token), resRaw, nil); err != nil {
			return nil, err
		}
		if err := b.Set(resIdxKey(expiresMs, token), nil, nil); err != nil {
			return nil, err
		}
		if err := x.db.CommitBatch(ctx, b); err != nil {
			return nil, fmt.Errorf("commit claim: %w", err)
		}

		x.logger.Debug("message claimed",
			log.Str("recipient", agentID),
			log.Str("message_id", mid.String()),
			log.Str("token", token),
			log.Int64("expires_ms", expiresMs),
		)
		return &ReceivedMessage{Message: *m, Token: token, ExpiresAtMs: expiresMs}, nil
	}
	return nil, nil
}

// loadReservation fetches a reservation by token.
func (x *Exchange) loadReservation(token string) (*Reservation, error) {
	raw, err := x.db.Get(resKey(token))
	if err != nil {
		return nil, err
	}
	var res Reservation
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("delivery: corrupt reservation %s: %w", token, err)
	}
	return &res, nil
}

// Ack finalizes a claimed message. It returns false (never an error) for
// an unknown token, a token owned by a different agent, or an expired
// reservation; in all three cases the caller has lost the claim and its
// result may be discarded.
func (x *Exchange) Ack(ctx context.Context, agentID, token string, nowMs int64) (bool, error) {
	start := time.Now()
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	res, err := x.loadReservation(token)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			x.metrics.RecordInvalidClaim()
			return false, nil
		}
		return false, err
	}
	if res.Recipient != agentID || res.ExpiresAtMs <= nowMs {
		// expired claims are left for the recovery scanner to requeue
		x.metrics.RecordInvalidClaim()
		return false, nil
	}

	mu := x.lockFor(res.Recipient)
	mu.Lock()
	defer mu.Unlock()

	// revalidate under the lock: a concurrent ack/nack/recovery may have
	// consumed the token between the lookup above and here
	res, err = x.loadReservation(token)
	if err != nil {
		x.metrics.RecordInvalidClaim()
		if errors.Is(err, pebblestore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if res.Recipient != agentID || res.ExpiresAtMs <= nowMs {
		x.metrics.RecordInvalidClaim()
		return false, nil
	}

	m, err := x.loadMessage(res.Recipient, res.MessageID)
	if err != nil {
		return false, err
	}

	m.State = StateAcked
	b := x.db.NewBatch()
	defer b.Close()
	if err := stageMessage(b, m); err != nil {
		return false, err
	}
	if err := b.Delete(resKey(token), nil); err != nil {
		return false, err
	}
	if err := b.Delete(resIdxKey(res.ExpiresAtMs, token), nil); err != nil {
		return false, err
	}
	if err := setActiveCount(b, res.Recipient, x.activeCount(res.Recipient)-1); err != nil {
		return false, err
	}
	if err := x.db.CommitBatch(ctx, b); err != nil {
		return false, fmt.Errorf("commit ack: %w", err)
	}

	x.metrics.RecordAck(res.Recipient)
	x.metrics.ObserveOp(time.Since(start), false)
	_, _ = x.trail.Append(ctx, res.Recipient, audit.EventAck, map[string]string{
		"message_id": res.MessageID.String(),
	})
	return true, nil
}

// Nack reports a failed delivery attempt. Token validation matches Ack;
// on success the retry controller decides requeue-with-backoff versus
// dead-letter, and the reservation is deleted either way.
func (x *Exchange) Nack(ctx context.Context, agentID, token string, failureType FailureType, lastError string, nowMs int64) (bool, error) {
	start := time.Now()
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}

	res, err := x.loadReservation(token)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			x.metrics.RecordInvalidClaim()
			return false, nil
		}
		return false, err
	}
	if res.Recipient != agentID || res.ExpiresAtMs <= nowMs {
		x.metrics.RecordInvalidClaim()
		return false, nil
	}

	mu := x.lockFor(res.Recipient)
	mu.Lock()
	defer mu.Unlock()

	res, err = x.loadReservation(token)
	if err != nil {
		x.metrics.RecordInvalidClaim()
		if errors.Is(err, pebblestore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if res.Recipient != agentID || res.ExpiresAtMs <= nowMs {
		x.metrics.RecordInvalidClaim()
		return false, nil
	}

	if err := x.failLocked(ctx, res, failureType, lastError, nowMs); err != nil {
		x.metrics.ObserveOp(time.Since(start), true)
		return false, err
	}
	x.metrics.RecordNack(res.Recipient)
	x.metrics.ObserveOp(time.Since(start), false)
	return true, nil
}
