package tailer

import (
	"strings"
	"sync"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
)

// keySeparator cannot occur in a parsed field; the parser strips NUL.
const keySeparator = "\x00"

// Key derives the dedup key for a record read from channel. The same channel,
// timestamp, author and message always produce the same key no matter which
// file or read produced the record.
func Key(channel string, rec models.LogRecord) string {
	return strings.Join([]string{
		channel,
		rec.Timestamp.UTC().Format(models.TimestampLayout),
		rec.Author,
		rec.Message,
	}, keySeparator)
}

// Ledger remembers which events were already delivered. With a zero ttl
// entries are kept for the lifetime of the process.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewLedger creates an empty ledger
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// HasSeen reports whether key was marked as delivered
func (l *Ledger) HasSeen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key]
	return ok
}

// MarkSeen records key as delivered at the given instant. The first
// instant wins.
func (l *Ledger) MarkSeen(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; !ok {
		l.seen[key] = at
	}
}

// Prune drops entries older than the ledger ttl and returns how many were
// removed. It is a no-op when the ttl is zero.
func (l *Ledger) Prune(now time.Time) int {
	if l.ttl <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, at := range l.seen {
		if now.Sub(at) > l.ttl {
			delete(l.seen, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered keys
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
