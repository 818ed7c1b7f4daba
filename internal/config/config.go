package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Delivery holds the queue tunables; Configure updates them at runtime.
	Delivery Delivery `json:"delivery" yaml:"delivery"`
	// Recovery controls the background reservation scanner.
	Recovery Recovery `json:"recovery" yaml:"recovery"`
	// Metrics controls the aggregator polling loop and warning thresholds.
	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// Delivery captures the per-process queue tunables of the delivery core.
type Delivery struct {
	// QueueSize is the per-recipient ceiling across all lanes, counting
	// both queued and reserved messages.
	QueueSize int `json:"queueSize" yaml:"queueSize"`
	// RetryAttempts is how many transient failures a message may accumulate
	// before the next failure dead-letters it.
	RetryAttempts int `json:"retryAttempts" yaml:"retryAttempts"`
	// VisibilityTimeout is the default reservation lifetime.
	VisibilityTimeout time.Duration `json:"visibilityTimeout" yaml:"visibilityTimeout"`
	// BackoffBase, BackoffFactor, BackoffMax parameterize the retry delay
	// min(BackoffMax, BackoffBase*BackoffFactor^attempts), in seconds.
	BackoffBase   float64 `json:"backoffBase" yaml:"backoffBase"`
	BackoffFactor float64 `json:"backoffFactor" yaml:"backoffFactor"`
	BackoffMax    float64 `json:"backoffMax" yaml:"backoffMax"`
	// PayloadMaxBytes bounds message payloads accepted by send.
	PayloadMaxBytes int `json:"payloadMaxBytes" yaml:"payloadMaxBytes"`
}

// Recovery captures recovery scanner settings.
type Recovery struct {
	Interval   time.Duration `json:"interval" yaml:"interval"`
	MaxPerTick int           `json:"maxPerTick" yaml:"maxPerTick"`
}

// Metrics captures aggregator settings.
type Metrics struct {
	PollInterval        time.Duration `json:"pollInterval" yaml:"pollInterval"`
	RetrySpikeThreshold int           `json:"retrySpikeThreshold" yaml:"retrySpikeThreshold"`
	DLQWarnThreshold    int           `json:"dlqWarnThreshold" yaml:"dlqWarnThreshold"`
	SampleWindow        int           `json:"sampleWindow" yaml:"sampleWindow"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Delivery: Delivery{
			QueueSize:         1000,
			RetryAttempts:     3,
			VisibilityTimeout: 5 * time.Second,
			BackoffBase:       1.0,
			BackoffFactor:     2.0,
			BackoffMax:        30.0,
			PayloadMaxBytes:   1 << 20,
		},
		Recovery: Recovery{
			Interval:   2 * time.Second,
			MaxPerTick: 1024,
		},
		Metrics: Metrics{
			PollInterval:        10 * time.Second,
			RetrySpikeThreshold: 50,
			DLQWarnThreshold:    100,
			SampleWindow:        1024,
		},
	}
}

// Load reads configuration from a JSON or YAML file by extension, overlaid
// on defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the delivery core cannot operate with.
func (c Config) Validate() error {
	d := c.Delivery
	if d.QueueSize <= 0 {
		return fmt.Errorf("config: queueSize must be positive, got %d", d.QueueSize)
	}
	if d.RetryAttempts < 0 {
		return fmt.Errorf("config: retryAttempts must be non-negative, got %d", d.RetryAttempts)
	}
	if d.VisibilityTimeout <= 0 {
		return fmt.Errorf("config: visibilityTimeout must be positive, got %s", d.VisibilityTimeout)
	}
	if d.BackoffBase < 0 || d.BackoffFactor < 0 || d.BackoffMax < 0 {
		return fmt.Errorf("config: backoff parameters must be non-negative")
	}
	return nil
}
