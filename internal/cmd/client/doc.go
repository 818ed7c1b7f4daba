// Package client provides the `courier` command-line client.
//
// The CLI talks to the Courier HTTP endpoint to perform common message
// operations from a terminal. It is primarily intended for developers
// and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8080 and can be overridden with the
// COURIER_HTTP environment variable.
//
// Usage
//
//	courier message send --sender planner --to worker \
//	    --type task_request --priority high \
//	    --payload '{"task":"index the repo"}'
//
//	courier message receive --agent worker
//	courier message ack --agent worker --token <token>
//	courier message nack --agent worker --token <token> --failure-type TRANSIENT --error "timeout"
//
//	courier dlq list --recipient worker --filter 'reason == "retry_exhausted"'
//	courier admin recover
//	courier admin configure --queue-size 500 --retry-attempts 5
//	courier stats
package client
