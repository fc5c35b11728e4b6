// Package history keeps a bounded, immutable record of emitted envelopes for
// introspection. It is never consulted for correctness.
package history

import (
	"time"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// DefaultLimit is the number of envelopes kept when no limit is given.
const DefaultLimit = 1000

// Ledger is an immutable ring of the most recent envelopes in emission order.
type Ledger struct {
	entries []*event.Envelope
	limit   int
}

// New returns an empty ledger holding at most limit envelopes.
// A limit below 1 uses DefaultLimit.
func New(limit int) Ledger {
	if limit < 1 {
		limit = DefaultLimit
	}
	return Ledger{limit: limit}
}

// Append returns a ledger with env added. When the cap is exceeded the
// oldest envelope is evicted.
func (l Ledger) Append(env *event.Envelope) Ledger {
	limit := l.Limit()
	keep := l.entries
	if len(keep) >= limit {
		keep = keep[len(keep)-limit+1:]
	}

	entries := make([]*event.Envelope, 0, len(keep)+1)
	entries = append(entries, keep...)
	entries = append(entries, env)
	return Ledger{entries: entries, limit: limit}
}

// Len returns the number of buffered envelopes.
func (l Ledger) Len() int {
	return len(l.entries)
}

// Limit returns the cap.
func (l Ledger) Limit() int {
	if l.limit < 1 {
		return DefaultLimit
	}
	return l.limit
}

// All returns every buffered envelope, oldest first.
func (l Ledger) All() []*event.Envelope {
	out := make([]*event.Envelope, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter selects envelopes. Zero fields match everything.
type Filter struct {
	Type   event.Type
	Source string

	// Since and Until bound the timestamp, inclusive.
	Since time.Time
	Until time.Time

	// CorrelationID matches every envelope in the chain, including the
	// envelope that started it.
	CorrelationID string

	// Limit keeps only the most recent matches.
	Limit int
}

// Match reports whether env passes the filter.
func (f Filter) Match(env *event.Envelope) bool {
	if f.Type != "" && env.Type() != f.Type {
		return false
	}
	if f.Source != "" && env.Source() != f.Source {
		return false
	}
	if !f.Since.IsZero() && env.Timestamp().Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && env.Timestamp().After(f.Until) {
		return false
	}
	if f.CorrelationID != "" && env.ChainID() != f.CorrelationID {
		return false
	}
	return true
}

// Query returns the matching envelopes in emission order.
func (l Ledger) Query(f Filter) []*event.Envelope {
	out := make([]*event.Envelope, 0)
	for _, env := range l.entries {
		if f.Match(env) {
			out = append(out, env)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Chain returns every envelope of one correlation chain in emission order.
func (l Ledger) Chain(correlationID string) []*event.Envelope {
	if correlationID == "" {
		return []*event.Envelope{}
	}
	return l.Query(Filter{CorrelationID: correlationID})
}

// CountByType returns how many buffered envelopes each type has.
func (l Ledger) CountByType() map[event.Type]int {
	out := make(map[event.Type]int)
	for _, env := range l.entries {
		out[env.Type()]++
	}
	return out
}
