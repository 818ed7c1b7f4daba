package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/theinterneti/courier/internal/audit"
	"github.com/theinterneti/courier/internal/config"
	"github.com/theinterneti/courier/pkg/log"
)

// RetryPolicy computes the requeue delay after a failed delivery attempt.
// Delays grow geometrically from Base by Factor and saturate at Max.
type RetryPolicy struct {
	Base   float64 // seconds
	Factor float64
	Max    float64 // seconds
}

func policyFrom(tun config.Delivery) RetryPolicy {
	return RetryPolicy{Base: tun.BackoffBase, Factor: tun.BackoffFactor, Max: tun.BackoffMax}
}

// Delay returns the backoff delay for a message that has now failed
// `attempts` times (attempts >= 1).
func (p RetryPolicy) Delay(attempts int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(p.Base * float64(time.Second))
	bo.Multiplier = p.Factor
	bo.MaxInterval = time.Duration(p.Max * float64(time.Second))
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	// k+1 calls yield base*factor^k, saturating at MaxInterval
	d := bo.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// failLocked applies the disposition for a failed attempt: requeue with
// backoff while retries remain, dead-letter once the attempt count exceeds
// the configured ceiling or the failure is permanent. The reservation is
// consumed in the same batch. Caller holds the recipient lock.
func (x *Exchange) failLocked(ctx context.Context, res *Reservation, ft FailureType, lastError string, nowMs int64) error {
	m, err := x.loadMessage(res.Recipient, res.MessageID)
	if err != nil {
		return err
	}

	tun := x.Tunables()
	m.Attempts++

	b := x.db.NewBatch()
	defer b.Close()
	if err := b.Delete(resKey(res.Token), nil); err != nil {
		return err
	}
	if err := b.Delete(resIdxKey(res.ExpiresAtMs, res.Token), nil); err != nil {
		return err
	}

	if ft == FailurePermanent || m.Attempts > tun.RetryAttempts {
		reason := ReasonRetryExhausted
		if ft == FailurePermanent {
			reason = ReasonPermanentFailure
		}
		if err := x.stageDeadLetter(b, m, reason, lastError, nowMs); err != nil {
			return err
		}
		if err := x.db.CommitBatch(ctx, b); err != nil {
			return fmt.Errorf("commit dead-letter: %w", err)
		}
		x.metrics.RecordDeadLetter(m.Recipient)
		_, _ = x.trail.Append(ctx, m.Recipient, audit.EventDeadLetter, map[string]string{
			"message_id": m.ID.String(),
			"reason":     reason,
		})
		x.logger.Info("message dead-lettered",
			log.Str("recipient", m.Recipient),
			log.Str("message_id", m.ID.String()),
			log.Str("reason", reason),
			log.Int("attempts", m.Attempts),
		)
		return nil
	}

	delay := policyFrom(tun).Delay(m.Attempts)
	m.State = StateQueued
	m.VisibleAtMs = nowMs + delay.Milliseconds()
	if err := stageMessage(b, m); err != nil {
		return err
	}
	if err := b.Set(readyKey(m.Recipient, m.Priority, m.VisibleAtMs, m.ID), nil, nil); err != nil {
		return err
	}
	if err := x.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("commit requeue: %w", err)
	}
	x.metrics.RecordRetry(m.Recipient)
	x.logger.Debug("message requeued with backoff",
		log.Str("recipient", m.Recipient),
		log.Str("message_id", m.ID.String()),
		log.Int("attempts", m.Attempts),
		log.Dur("delay", delay),
	)
	return nil
}
