// Package audit keeps an append-only trail of delivery events per recipient.
//
// Each entry is a CRC-framed record keyed by a monotonically increasing
// sequence, so reads are ordered and cheap cursor-style paging falls out of
// key iteration. The trail is advisory: the delivery core appends to it
// after a state transition commits, and admin tooling reads it back.
//
// Keyspace: audit/{recipient}/{seq 8B BE}
package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
)

// Event kinds recorded by the delivery core.
const (
	EventSend       = "send"
	EventAck        = "ack"
	EventDeadLetter = "dead_letter"
	EventRecover    = "recover"
)

// Entry is one audit record.
type Entry struct {
	Seq       uint64            `json:"seq"`
	Recipient string            `json:"recipient"`
	Event     string            `json:"event"`
	AtMs      int64             `json:"atMs"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Log appends and reads audit entries. Safe for concurrent use.
type Log struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq map[string]uint64
}

// NewLog creates an audit log over db.
func NewLog(db *pebblestore.DB) *Log {
	return &Log{db: db, lastSeq: make(map[string]uint64)}
}

var keyPrefix = []byte("audit/")

func entryKey(recipient string, seq uint64) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(recipient)+1+8)
	k = append(k, keyPrefix...)
	k = append(k, recipient...)
	k = append(k, '/')
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], seq)
	return append(k, sb[:]...)
}

func recipientRange(recipient string) ([]byte, []byte) {
	lo := make([]byte, 0, len(keyPrefix)+len(recipient)+1)
	lo = append(lo, keyPrefix...)
	lo = append(lo, recipient...)
	lo = append(lo, '/')
	hi := append(append([]byte{}, lo...), 0xFF)
	return lo, hi
}

// nextSeq returns the next sequence for recipient, restoring from storage on
// first use after process start.
func (l *Log) nextSeq(recipient string) (uint64, error) {
	if seq, ok := l.lastSeq[recipient]; ok {
		l.lastSeq[recipient] = seq + 1
		return seq + 1, nil
	}
	lo, hi := recipientRange(recipient)
	it, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var last uint64
	if it.Last() {
		k := it.Key()
		if len(k) >= 8 {
			last = binary.BigEndian.Uint64(k[len(k)-8:])
		}
	}
	l.lastSeq[recipient] = last + 1
	return last + 1, nil
}

// Append records an event for recipient and returns its sequence.
func (l *Log) Append(ctx context.Context, recipient, event string, detail map[string]string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.nextSeq(recipient)
	if err != nil {
		return 0, fmt.Errorf("audit seq: %w", err)
	}
	entry := Entry{
		Seq:       seq,
		Recipient: recipient,
		Event:     event,
		AtMs:      time.Now().UnixMilli(),
		Detail:    detail,
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal audit entry: %w", err)
	}

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(entryKey(recipient, seq), frame(body), nil); err != nil {
		return 0, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("commit audit entry: %w", err)
	}
	return seq, nil
}

// Read returns up to limit entries for recipient starting at fromSeq
// (inclusive; 0 means from the beginning).
func (l *Log) Read(ctx context.Context, recipient string, fromSeq uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	lo, hi := recipientRange(recipient)
	if fromSeq > 0 {
		lo = entryKey(recipient, fromSeq)
	}
	it, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Entry
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		body, valid := unframe(it.Value())
		if !valid {
			continue
		}
		var e Entry
		if err := json.Unmarshal(body, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
