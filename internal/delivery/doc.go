// Package delivery implements reliable one-recipient message delivery with
// reservation-based claims.
//
// Every message is addressed to exactly one recipient agent. A consumer
// claims the best-eligible message with Receive, holds it behind an opaque
// reservation token for the visibility timeout, and settles it with Ack or
// Nack. A claim that is never settled expires and is reclaimed by the
// recovery scanner, so delivery is at-least-once: a message is handed out
// one or more times, never zero, but two live claims on the same message
// can never coexist.
//
// # Keyspace
//
//	rq/{recipient}/msg/{id}                  - Message record (JSON + crc32c)
//	rq/{recipient}/rdy/{lane}{visible_ms}{id}- Ready index, one lane byte per priority
//	rq/{recipient}/dlq/{id}                  - Dead-letter snapshot
//	rq/{recipient}/meta                      - Active count (QUEUED + RESERVED)
//	rv/{token}                               - Reservation record
//	rvx/{expires_ms}{token}                  - Reservation expiry index
//	sub/{agent}                              - Declared type interests
//
// The ready index sorts by lane, then visibility time, then id. Claim
// selection scans lanes high to low and takes the first entry whose
// visibility time has passed, which yields strict priority dominance and
// FIFO order within a lane. Backed-off retries re-enter the same index
// with a future visibility time and need no separate promotion step.
//
// # Message Lifecycle
//
//  1. Send: record written, ready entry indexed, active count +1
//  2. Receive: ready entry removed, state RESERVED, reservation written
//  3. Settle:
//     - Ack: state ACKED, reservation deleted, active count -1
//     - Nack(TRANSIENT): attempts +1, requeued with backoff delay
//     - Nack(PERMANENT): moved to DLQ, active count -1
//  4. Expiry: recovery scanner treats the claim as an implicit
//     transient nack and runs the same retry path
//
// All multi-key transitions commit as a single pebble batch under a
// per-recipient mutex, so racing claims, settles, and recovery passes
// serialize per recipient without a global lock.
package delivery
