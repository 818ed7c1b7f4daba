// Package pebblestore wraps cockroachdb/pebble with the durability policy
// and batch helpers the delivery core builds on.
//
// The wrapper pins one fsync policy per process (always / interval / never)
// so callers never choose sync behavior per write, and exposes a MetricsHook
// so storage latencies feed the delivery metrics snapshot.
package pebblestore
