// Package recipient tracks the set of per-recipient queues known to this
// node. Each recipient (agent type + instance) gets a metadata record the
// first time a message is addressed to it; the metrics aggregator and admin
// tooling enumerate recipients through this registry.
package recipient

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/theinterneti/courier/internal/storage/pebble"
)

// Meta holds recipient queue metadata.
type Meta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

var metaPrefix = []byte("rmeta/")

// namePattern constrains recipient and agent identifiers so they can embed
// safely in store keys. Dots separate agent type from instance ("wba.1").
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name is usable as a recipient/agent identifier.
func ValidName(name string) bool { return namePattern.MatchString(name) }

func metaKey(name string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(name))
	k = append(k, metaPrefix...)
	k = append(k, name...)
	return k
}

// Ensure creates a metadata record for name if absent and returns the
// effective record. Idempotent.
func Ensure(db *pebblestore.DB, name string) (Meta, error) {
	if !ValidName(name) {
		return Meta{}, fmt.Errorf("recipient: invalid name %q", name)
	}
	key := metaKey(name)
	if b, err := db.Get(key); err == nil && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// corrupted record: fall through and rewrite
	}
	m := Meta{Name: name, CreatedAtMs: time.Now().UnixMilli()}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, b); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// List returns all known recipients sorted by name.
func List(db *pebblestore.DB) ([]Meta, error) {
	hi := append(append([]byte{}, metaPrefix...), 0xFF)
	it, err := db.NewIter(&pebble.IterOptions{LowerBound: metaPrefix, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Meta
	for ok := it.First(); ok; ok = it.Next() {
		var m Meta
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
