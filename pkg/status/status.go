// Package status implements the per-Channel status block: a small
// append-only log of process events rendered into a short human-readable
// block prepended to each LLM call (spec.md §4.8).
package status

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries and DefaultMaxAge are spec.md §4.8's defaults.
const (
	DefaultMaxEntries = 12
	DefaultMaxAge     = 5 * time.Minute
)

// Entry is one status-block line.
type Entry struct {
	Text      string
	CreatedAt time.Time
}

// Block is a count-and-age-bounded ring buffer of status entries, grounded
// on the bounded-counter style pkg/metrics uses for its own rolling
// windows, combined with simple age-based eviction.
type Block struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time
}

func NewBlock(maxEntries int, maxAge time.Duration) *Block {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Block{maxEntries: maxEntries, maxAge: maxAge, now: time.Now}
}

// Append adds a new entry, formatted the way callers compose status lines
// (e.g. status.Appendf(b, "tool %s started", name)).
func (b *Block) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, Entry{Text: text, CreatedAt: b.now()})
	b.evictLocked()
}

// Appendf is a convenience formatter over Append.
func (b *Block) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

func (b *Block) evictLocked() {
	cutoff := b.now().Add(-b.maxAge)
	live := b.entries[:0]
	for _, e := range b.entries {
		if e.CreatedAt.After(cutoff) {
			live = append(live, e)
		}
	}
	b.entries = live

	if len(b.entries) > b.maxEntries {
		b.entries = b.entries[len(b.entries)-b.maxEntries:]
	}
}

// Render produces the block prepended to the next LLM call. An empty block
// renders to "" so callers can omit it from the prompt entirely.
func (b *Block) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()

	if len(b.entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recent activity:\n")
	for _, e := range b.entries {
		sb.WriteString("- ")
		sb.WriteString(e.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Len reports the current live entry count, evicting stale entries first.
func (b *Block) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked()
	return len(b.entries)
}
