// Package idempotency suppresses replayed webhook deliveries. The forge
// redelivers when a receiver times out and on manual replay; marking
// delivery ids in a small persisted ledger keeps a replay from opening a
// second session for work that already ran.
package idempotency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// DefaultTTL is how long a delivery id stays marked. Automatic
// redeliveries land within minutes; a day also covers manual replays
// from the forge UI.
const DefaultTTL = 24 * time.Hour

// ledgerFile is the on-disk shape: delivery id to unix expiry.
type ledgerFile struct {
	Deliveries map[string]int64 `json:"deliveries"`
}

// Ledger remembers which delivery ids have been handled. All methods are
// safe for concurrent use.
type Ledger struct {
	path string
	ttl  time.Duration

	mu   sync.Mutex
	seen map[string]int64

	now func() time.Time
}

// Open loads the ledger at path, starting empty when no file exists yet.
// A non-positive ttl falls back to DefaultTTL.
func Open(path string, ttl time.Duration) (*Ledger, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Ledger{
		path: path,
		ttl:  ttl,
		seen: make(map[string]int64),
		now:  time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read delivery ledger: %w", err)
	}
	if len(data) == 0 {
		return l, nil
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse delivery ledger %s: %w", path, err)
	}
	if file.Deliveries != nil {
		l.seen = file.Deliveries
	}
	return l, nil
}

// Seen reports whether id was already marked and still inside its ttl.
// An unseen id is marked and persisted before Seen returns, so the
// second caller with the same id always gets true.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().Unix()
	if expiry, ok := l.seen[id]; ok && expiry > now {
		return true
	}

	for k, expiry := range l.seen {
		if expiry <= now {
			delete(l.seen, k)
		}
	}
	l.seen[id] = now + int64(l.ttl.Seconds())

	if err := l.save(); err != nil {
		// The in-memory mark still holds for this process; only a
		// restart can forget the delivery.
		slog.Warn("Delivery ledger not persisted", "path", l.path, "error", err)
	}
	return false
}

// Len returns how many deliveries are currently marked, expired or not.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func (l *Ledger) save() error {
	data, err := json.MarshalIndent(ledgerFile{Deliveries: l.seen}, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(l.path, bytes.NewReader(data))
}
