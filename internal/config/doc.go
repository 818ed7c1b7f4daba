// Package config loads Courier configuration from JSON or YAML files with
// a COURIER_* environment overlay, and carries the delivery tunables
// (queue size, retry ceiling, visibility timeout, backoff curve) that the
// runtime Configure operation can later swap atomically.
package config
