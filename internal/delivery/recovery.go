package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/theinterneti/courier/internal/audit"
	"github.com/theinterneti/courier/internal/config"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	"github.com/theinterneti/courier/pkg/log"
)

// RecoverReport summarizes one recovery pass.
type RecoverReport struct {
	Total        int            `json:"total"`
	PerRecipient map[string]int `json:"per_recipient,omitempty"`
}

// RecoverPending reclaims expired reservations, each treated as an
// implicit transient nack from the owning agent. agentID filters the scan
// to one owner; empty means all. The pass is idempotent: a reservation
// already reclaimed by a concurrent scan is skipped, so repeated calls
// never double-penalize a message. maxPerTick <= 0 means unbounded.
func (x *Exchange) RecoverPending(ctx context.Context, agentID string, maxPerTick int, nowMs int64) (RecoverReport, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	report := RecoverReport{PerRecipient: map[string]int{}}

	// snapshot candidate tokens first; reclamation mutates the index
	tokens, err := x.expiredTokens(nowMs, maxPerTick)
	if err != nil {
		return report, err
	}

	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		reclaimed, rcpt, err := x.reclaimOne(ctx, token, agentID, nowMs)
		if err != nil {
			return report, err
		}
		if reclaimed {
			report.Total++
			report.PerRecipient[rcpt]++
		}
	}
	if report.Total > 0 {
		x.logger.Info("expired reservations reclaimed", log.Int("count", report.Total))
	}
	return report, nil
}

// expiredTokens scans the expiry index for reservations due before nowMs.
func (x *Exchange) expiredTokens(nowMs int64, limit int) ([]string, error) {
	lo, hi := resIdxRange(nowMs)
	it, err := x.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var tokens []string
	for ok := it.First(); ok; ok = it.Next() {
		_, token, valid := parseResIdxKey(it.Key())
		if !valid {
			continue
		}
		tokens = append(tokens, token)
		if limit > 0 && len(tokens) >= limit {
			break
		}
	}
	return tokens, nil
}

// reclaimOne requeues (or dead-letters) the message behind one expired
// token. Returns false without error when the reservation is gone or does
// not match the owner filter.
func (x *Exchange) reclaimOne(ctx context.Context, token, agentID string, nowMs int64) (bool, string, error) {
	res, err := x.loadReservation(token)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if agentID != "" && res.Recipient != agentID {
		return false, "", nil
	}

	mu := x.lockFor(res.Recipient)
	mu.Lock()
	defer mu.Unlock()

	// revalidate under the lock: a racing ack, nack, or scan may have
	// consumed the token already
	res, err = x.loadReservation(token)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if res.ExpiresAtMs > nowMs {
		return false, "", nil
	}

	if err := x.failLocked(ctx, res, FailureTransient, "reservation expired", nowMs); err != nil {
		return false, "", err
	}
	_, _ = x.trail.Append(ctx, res.Recipient, audit.EventRecover, map[string]string{
		"message_id": res.MessageID.String(),
		"token":      res.Token,
	})
	return true, res.Recipient, nil
}

// Scanner runs RecoverPending on a fixed interval until stopped.
type Scanner struct {
	x      *Exchange
	cfg    config.Recovery
	logger log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScanner builds a background recovery scanner over an exchange.
func NewScanner(x *Exchange, cfg config.Recovery, logger log.Logger) *Scanner {
	return &Scanner{x: x, cfg: cfg, logger: logger.WithComponent("recovery")}
}

// Start launches the scan loop. Calling Start on a running scanner is a
// no-op.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("recovery scanner started", log.Dur("interval", s.cfg.Interval))
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("recovery scanner stopped")
}

func (s *Scanner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// spread startup so many nodes do not scan in lockstep
	jitter := time.Duration(rand.Int63n(int64(s.cfg.Interval) / 4))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.x.RecoverPending(ctx, "", s.cfg.MaxPerTick, 0); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("recovery pass failed", log.Err(err))
			}
		}
	}
}
