package delivery

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/theinterneti/courier/internal/config"
	"github.com/theinterneti/courier/internal/recipient"
	"github.com/theinterneti/courier/pkg/log"
)

// Counters are the monotonic per-recipient delivery counters.
type Counters struct {
	Sends        uint64 `json:"sends"`
	Receives     uint64 `json:"receives"`
	Acks         uint64 `json:"acks"`
	Nacks        uint64 `json:"nacks"`
	Retries      uint64 `json:"retries"`
	DeadLetters  uint64 `json:"deadLetters"`
	Backpressure uint64 `json:"backpressure"`
}

// StorageCounters track pebble read/commit traffic observed through the
// storage hook.
type StorageCounters struct {
	Reads       uint64 `json:"reads"`
	ReadBytes   uint64 `json:"readBytes"`
	Commits     uint64 `json:"commits"`
	CommitBytes uint64 `json:"commitBytes"`
}

// OpLatency summarizes the recent operation-duration window.
type OpLatency struct {
	Samples int           `json:"samples"`
	Errors  uint64        `json:"errors"`
	Avg     time.Duration `json:"avg"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	Max     time.Duration `json:"max"`
}

const defaultSampleWindow = 1024

// Collector accumulates delivery and storage counters in memory. It is
// safe for concurrent use and doubles as the storage metrics hook.
type Collector struct {
	mu            sync.Mutex
	perRecipient  map[string]*Counters
	invalidClaims uint64
	storage       StorageCounters

	samples  []time.Duration
	sampleAt int
	filled   bool
	opErrors uint64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		perRecipient: make(map[string]*Counters),
		samples:      make([]time.Duration, defaultSampleWindow),
	}
}

// SetSampleWindow resizes the latency ring. Existing samples are dropped.
func (c *Collector) SetSampleWindow(n int) {
	if n <= 0 {
		n = defaultSampleWindow
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = make([]time.Duration, n)
	c.sampleAt = 0
	c.filled = false
}

func (c *Collector) counters(recipientName string) *Counters {
	ct := c.perRecipient[recipientName]
	if ct == nil {
		ct = &Counters{}
		c.perRecipient[recipientName] = ct
	}
	return ct
}

func (c *Collector) RecordSend(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).Sends++
}

func (c *Collector) RecordBackpressure(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).Backpressure++
}

func (c *Collector) RecordReceive(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).Receives++
}

func (c *Collector) RecordAck(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).Acks++
}

func (c *Collector) RecordNack(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).Nacks++
}

func (c *Collector) RecordRetry(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).Retries++
}

func (c *Collector) RecordDeadLetter(recipientName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters(recipientName).DeadLetters++
}

func (c *Collector) RecordInvalidClaim() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidClaims++
}

// ObserveOp records one operation duration into the latency ring.
func (c *Collector) ObserveOp(elapsed time.Duration, errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errored {
		c.opErrors++
	}
	c.samples[c.sampleAt] = elapsed
	c.sampleAt++
	if c.sampleAt == len(c.samples) {
		c.sampleAt = 0
		c.filled = true
	}
}

// ObserveRead implements the storage metrics hook.
func (c *Collector) ObserveRead(_ time.Duration, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage.Reads++
	c.storage.ReadBytes += uint64(bytes)
}

// ObserveCommit implements the storage metrics hook.
func (c *Collector) ObserveCommit(_ time.Duration, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storage.Commits++
	c.storage.CommitBytes += uint64(bytes)
}

// CounterSnapshot returns a copy of all counters.
func (c *Collector) CounterSnapshot() (per map[string]Counters, invalidClaims uint64, storage StorageCounters, lat OpLatency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	per = make(map[string]Counters, len(c.perRecipient))
	for name, ct := range c.perRecipient {
		per[name] = *ct
	}
	n := c.sampleAt
	if c.filled {
		n = len(c.samples)
	}
	lat = OpLatency{Samples: n, Errors: c.opErrors}
	if n > 0 {
		sorted := make([]time.Duration, n)
		copy(sorted, c.samples[:n])
		slices.Sort(sorted)
		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		lat.Avg = sum / time.Duration(n)
		lat.P50 = sorted[n/2]
		lat.P95 = sorted[(n*95)/100]
		lat.Max = sorted[n-1]
	}
	return per, c.invalidClaims, c.storage, lat
}

// RecipientStats combines live queue depths with the counters for one
// recipient.
type RecipientStats struct {
	Depths   [laneCount]int `json:"depths"` // queued per lane, high first
	Queued   int            `json:"queued"`
	Reserved int            `json:"reserved"`
	Active   int            `json:"active"`
	DLQ      int            `json:"dlq"`
	Counters Counters       `json:"counters"`
}

// Snapshot is a point-in-time view of the whole exchange.
type Snapshot struct {
	TakenAtMs     int64                     `json:"takenAtMs"`
	Recipients    map[string]RecipientStats `json:"recipients"`
	InvalidClaims uint64                    `json:"invalidClaims"`
	Storage       StorageCounters           `json:"storage"`
	Latency       OpLatency                 `json:"latency"`
}

// laneDepth counts ready-index entries in one lane.
func (x *Exchange) laneDepth(recipientName string, lane Priority) int {
	lo, hi := readyLaneRange(recipientName, lane)
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

// Stats walks the recipient registry and derives queue depths, reserved
// counts, and DLQ lengths from the store, merged with the collector's
// counters.
func (x *Exchange) Stats(_ context.Context, nowMs int64) (Snapshot, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	per, invalid, storage, lat := x.metrics.CounterSnapshot()
	snap := Snapshot{
		TakenAtMs:     nowMs,
		Recipients:    make(map[string]RecipientStats),
		InvalidClaims: invalid,
		Storage:       storage,
		Latency:       lat,
	}

	metas, err := recipient.List(x.db)
	if err != nil {
		return snap, err
	}
	for _, meta := range metas {
		rs := RecipientStats{Counters: per[meta.Name]}
		for lane := PriorityHigh; lane < laneCount; lane++ {
			d := x.laneDepth(meta.Name, lane)
			rs.Depths[lane] = d
			rs.Queued += d
		}
		rs.Active = x.activeCount(meta.Name)
		rs.Reserved = rs.Active - rs.Queued
		if rs.Reserved < 0 {
			rs.Reserved = 0
		}
		rs.DLQ = x.DeadLetterCount(meta.Name)
		snap.Recipients[meta.Name] = rs
		delete(per, meta.Name)
	}
	// counters for recipients not (or no longer) in the registry
	for name, ct := range per {
		snap.Recipients[name] = RecipientStats{Counters: ct}
	}
	return snap, nil
}

// Aggregator polls Stats on an interval and logs threshold breaches:
// retry spikes and oversized dead-letter queues.
type Aggregator struct {
	x      *Exchange
	cfg    config.Metrics
	logger log.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	lastRetry  map[string]uint64
	lastSnap   *Snapshot
	lastSnapMu sync.RWMutex
}

// NewAggregator builds a metrics poll loop over an exchange.
func NewAggregator(x *Exchange, cfg config.Metrics, logger log.Logger) *Aggregator {
	x.Metrics().SetSampleWindow(cfg.SampleWindow)
	return &Aggregator{
		x:         x,
		cfg:       cfg,
		logger:    logger.WithComponent("metrics"),
		lastRetry: make(map[string]uint64),
	}
}

// Last returns the most recent snapshot taken by the poll loop, or nil
// before the first poll.
func (a *Aggregator) Last() *Snapshot {
	a.lastSnapMu.RLock()
	defer a.lastSnapMu.RUnlock()
	return a.lastSnap
}

// Start launches the poll loop. No-op when already running.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(ctx, a.done)
	a.logger.Info("metrics aggregator started", log.Dur("interval", a.cfg.PollInterval))
}

// Stop halts the loop and waits for the in-flight poll to finish.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	a.logger.Info("metrics aggregator stopped")
}

func (a *Aggregator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(a.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.poll(ctx)
		}
	}
}

func (a *Aggregator) poll(ctx context.Context) {
	snap, err := a.x.Stats(ctx, 0)
	if err != nil {
		a.logger.Warn("stats poll failed", log.Err(err))
		return
	}
	a.lastSnapMu.Lock()
	a.lastSnap = &snap
	a.lastSnapMu.Unlock()

	for name, rs := range snap.Recipients {
		delta := rs.Counters.Retries - a.lastRetry[name]
		a.lastRetry[name] = rs.Counters.Retries
		if a.cfg.RetrySpikeThreshold > 0 && delta >= uint64(a.cfg.RetrySpikeThreshold) {
			a.logger.Warn("retry spike",
				log.Str("recipient", name),
				log.Int64("retries_in_window", int64(delta)),
			)
		}
		if a.cfg.DLQWarnThreshold > 0 && rs.DLQ >= a.cfg.DLQWarnThreshold {
			a.logger.Warn("dead-letter queue above threshold",
				log.Str("recipient", name),
				log.Int("dlq_depth", rs.DLQ),
			)
		}
	}
}
