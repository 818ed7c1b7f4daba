package delivery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/theinterneti/courier/internal/audit"
	"github.com/theinterneti/courier/internal/config"
	"github.com/theinterneti/courier/internal/recipient"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	"github.com/theinterneti/courier/pkg/id"
	"github.com/theinterneti/courier/pkg/log"
)

// ErrBackpressure is returned by Send when the recipient's queue (queued
// plus reserved) is at its configured ceiling. The send has no side effect;
// callers retry externally.
var ErrBackpressure = errors.New("delivery: recipient queue at capacity")

// Exchange is the reliable delivery core: it owns the message store
// keyspace and serializes every per-recipient state transition.
type Exchange struct {
	db     *pebblestore.DB
	trail  *audit.Log
	ids    *id.Generator
	logger log.Logger

	// tunables holds the process-wide Configure-able settings. Swapped
	// atomically; each operation reads one consistent snapshot.
	tunables atomic.Pointer[config.Delivery]

	metrics *Collector

	// locks serializes select-and-claim and state writes per recipient.
	// There is deliberately no global lock across recipients.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open creates an Exchange over db with the given tunables.
func Open(db *pebblestore.DB, tun config.Delivery, logger log.Logger) *Exchange {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	x := &Exchange{
		db:      db,
		trail:   audit.NewLog(db),
		ids:     id.NewGenerator(),
		logger:  logger.WithComponent("delivery"),
		metrics: NewCollector(),
		locks:   make(map[string]*sync.Mutex),
	}
	x.tunables.Store(&tun)
	return x
}

// Metrics returns the exchange's collector, for wiring into the storage
// hook and the aggregator.
func (x *Exchange) Metrics() *Collector { return x.metrics }

// Audit returns the exchange's audit trail.
func (x *Exchange) Audit() *audit.Log { return x.trail }

// Tunables returns the current process-wide settings.
func (x *Exchange) Tunables() config.Delivery { return *x.tunables.Load() }

// TunablesPatch carries partial updates for Configure; nil fields are left
// unchanged.
type TunablesPatch struct {
	QueueSize     *int
	RetryAttempts *int
	BackoffBase   *float64
	BackoffFactor *float64
	BackoffMax    *float64
}

// Configure atomically swaps the process-wide tunables. Only future
// operations observe the new values; queues are not resized and in-flight
// backoffs are not recomputed.
func (x *Exchange) Configure(patch TunablesPatch) config.Delivery {
	for {
		cur := x.tunables.Load()
		next := *cur
		if patch.QueueSize != nil {
			next.QueueSize = *patch.QueueSize
		}
		if patch.RetryAttempts != nil {
			next.RetryAttempts = *patch.RetryAttempts
		}
		if patch.BackoffBase != nil {
			next.BackoffBase = *patch.BackoffBase
		}
		if patch.BackoffFactor != nil {
			next.BackoffFactor = *patch.BackoffFactor
		}
		if patch.BackoffMax != nil {
			next.BackoffMax = *patch.BackoffMax
		}
		if x.tunables.CompareAndSwap(cur, &next) {
			x.logger.Info("tunables updated",
				log.Int("queue_size", next.QueueSize),
				log.Int("retry_attempts", next.RetryAttempts),
				log.F("backoff_base", next.BackoffBase),
				log.F("backoff_factor", next.BackoffFactor),
				log.F("backoff_max", next.BackoffMax),
			)
			return next
		}
	}
}

// lockFor returns the mutex serializing one recipient's transitions.
func (x *Exchange) lockFor(recipientName string) *sync.Mutex {
	x.locksMu.Lock()
	defer x.locksMu.Unlock()
	mu, ok := x.locks[recipientName]
	if !ok {
		mu = &sync.Mutex{}
		x.locks[recipientName] = mu
	}
	return mu
}

// activeCount reads the recipient's QUEUED+RESERVED count from its meta key.
func (x *Exchange) activeCount(recipientName string) int {
	meta, err := x.db.Get(metaKey(recipientName))
	if err != nil || len(meta) < 4 {
		return 0
	}
	return int(binary.BigEndian.Uint32(meta[:4]))
}

// setActiveCount stages the recipient's count into a batch.
func setActiveCount(b *pebble.Batch, recipientName string, count int) error {
	if count < 0 {
		count = 0
	}
	var meta [4]byte
	binary.BigEndian.PutUint32(meta[:], uint32(count))
	return b.Set(metaKey(recipientName), meta[:], nil)
}

// loadMessage reads and decodes one message record.
func (x *Exchange) loadMessage(recipientName string, mid id.ID) (*Message, error) {
	raw, err := x.db.Get(msgKey(recipientName, mid))
	if err != nil {
		return nil, err
	}
	m, ok := decodeMessage(raw)
	if !ok {
		return nil, fmt.Errorf("delivery: corrupt message record %s/%s", recipientName, mid)
	}
	return m, nil
}

// stageMessage encodes a message record into a batch.
func stageMessage(b *pebble.Batch, m *Message) error {
	raw, err := encodeMessage(m)
	if err != nil {
		return err
	}
	return b.Set(msgKey(m.Recipient, m.ID), raw, nil)
}

// Message returns one message record for inspection, regardless of state.
func (x *Exchange) Message(_ context.Context, recipientName string, mid id.ID) (*Message, error) {
	if !recipient.ValidName(recipientName) {
		return nil, fmt.Errorf("delivery: invalid recipient %q", recipientName)
	}
	m, err := x.loadMessage(recipientName, mid)
	if errors.Is(err, pebblestore.ErrNotFound) {
		// terminal dead letters keep their snapshot under the DLQ key
		if e, dlqErr := x.deadLetter(recipientName, mid); dlqErr == nil {
			msg := e.Message
			return &msg, nil
		}
		return nil, err
	}
	return m, err
}
