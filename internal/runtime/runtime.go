package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/theinterneti/courier/internal/config"
	"github.com/theinterneti/courier/internal/delivery"
	"github.com/theinterneti/courier/internal/recipient"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
	"github.com/theinterneti/courier/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	Logger        log.Logger
}

// Runtime wires storage, config, the delivery exchange, and its background
// tasks for a single-node instance.
type Runtime struct {
	db       *pebblestore.DB
	config   cfgpkg.Config
	exchange *delivery.Exchange
	scanner  *delivery.Scanner
	agg      *delivery.Aggregator
}

// Open initializes storage and the delivery exchange. Background tasks are
// created but not started; call StartBackground once the process is ready
// to serve.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	x := delivery.Open(db, opts.Config.Delivery, logger)
	db.SetMetrics(x.Metrics())
	return &Runtime{
		db:       db,
		config:   opts.Config,
		exchange: x,
		scanner:  delivery.NewScanner(x, opts.Config.Recovery, logger),
		agg:      delivery.NewAggregator(x, opts.Config.Metrics, logger),
	}, nil
}

// StartBackground launches the recovery scanner and metrics aggregator.
func (r *Runtime) StartBackground() {
	r.scanner.Start()
	r.agg.Start()
}

// StopBackground halts the background tasks and waits for in-flight passes.
func (r *Runtime) StopBackground() {
	r.scanner.Stop()
	r.agg.Stop()
}

// Close stops background tasks and closes underlying resources.
func (r *Runtime) Close() error {
	r.StopBackground()
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage liveness check.
func (r *Runtime) CheckHealth(_ context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Exchange returns the delivery core.
func (r *Runtime) Exchange() *delivery.Exchange { return r.exchange }

// Aggregator returns the metrics poll loop, for snapshot reads.
func (r *Runtime) Aggregator() *delivery.Aggregator { return r.agg }

// Recipients lists registered recipients.
func (r *Runtime) Recipients() ([]recipient.Meta, error) { return recipient.List(r.db) }

// DB exposes the underlying store (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
