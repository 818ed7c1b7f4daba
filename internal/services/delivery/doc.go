// Package deliverysvc exposes the delivery exchange over wire-friendly
// request/response types. It validates and translates requests, leaving
// every queue semantic (ordering, claims, retries, dead-lettering) to the
// delivery package. Dead-letter listings accept an optional CEL filter
// over sender, msg_type, reason, attempts, and the parsed payload.
package deliverysvc
