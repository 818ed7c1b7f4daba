package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays COURIER_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if n, ok := envInt("COURIER_QUEUE_SIZE"); ok {
		cfg.Delivery.QueueSize = n
	}
	if n, ok := envInt("COURIER_RETRY_ATTEMPTS"); ok {
		cfg.Delivery.RetryAttempts = n
	}
	if d, ok := envDuration("COURIER_VISIBILITY_TIMEOUT"); ok {
		cfg.Delivery.VisibilityTimeout = d
	}
	if f, ok := envFloat("COURIER_BACKOFF_BASE"); ok {
		cfg.Delivery.BackoffBase = f
	}
	if f, ok := envFloat("COURIER_BACKOFF_FACTOR"); ok {
		cfg.Delivery.BackoffFactor = f
	}
	if f, ok := envFloat("COURIER_BACKOFF_MAX"); ok {
		cfg.Delivery.BackoffMax = f
	}
	if n, ok := envInt("COURIER_PAYLOAD_MAX_BYTES"); ok {
		cfg.Delivery.PayloadMaxBytes = n
	}
	if d, ok := envDuration("COURIER_RECOVERY_INTERVAL"); ok {
		cfg.Recovery.Interval = d
	}
	if n, ok := envInt("COURIER_RECOVERY_MAX_PER_TICK"); ok {
		cfg.Recovery.MaxPerTick = n
	}
	if d, ok := envDuration("COURIER_METRICS_POLL_INTERVAL"); ok {
		cfg.Metrics.PollInterval = d
	}
	if n, ok := envInt("COURIER_METRICS_RETRY_SPIKE_THRESHOLD"); ok {
		cfg.Metrics.RetrySpikeThreshold = n
	}
	if n, ok := envInt("COURIER_METRICS_DLQ_WARN_THRESHOLD"); ok {
		cfg.Metrics.DLQWarnThreshold = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
