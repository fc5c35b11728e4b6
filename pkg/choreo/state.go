package choreo

import (
	"maps"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/history"
	"github.com/randalmurphal/choreo/pkg/choreo/registry"
)

// State is one immutable snapshot of the bus. A State obtained from
// Snapshot stays valid and unchanged after later mutations.
type State struct {
	Registry        registry.Registry
	History         history.Ledger
	Running         bool
	TotalEvents     uint64
	HandlerFailures uint64

	eventCounts map[event.Type]uint64
}

// EventCounts returns how many envelopes of each type were emitted.
func (s State) EventCounts() map[event.Type]uint64 {
	return maps.Clone(s.eventCounts)
}

// recorded returns s with env appended to history and counted.
func (s State) recorded(env *event.Envelope) State {
	counts := make(map[event.Type]uint64, len(s.eventCounts)+1)
	maps.Copy(counts, s.eventCounts)
	counts[env.Type()]++

	s.History = s.History.Append(env)
	s.TotalEvents++
	s.eventCounts = counts
	return s
}

// Stats is a read-only view over a State.
type Stats struct {
	SubscriptionsByType  map[event.Type]int    `json:"subscription_counts_by_type"`
	TotalEventsProcessed uint64                `json:"total_events_processed"`
	EventsByType         map[event.Type]uint64 `json:"event_counts_by_type"`
	Running              bool                  `json:"is_running"`
	HistorySize          int                   `json:"history_size"`
	HandlerFailures      uint64                `json:"handler_failures"`
}

// Stats derives the statistics view.
func (s State) Stats() Stats {
	counts := s.EventCounts()
	if counts == nil {
		counts = map[event.Type]uint64{}
	}
	return Stats{
		SubscriptionsByType:  s.Registry.Counts(),
		TotalEventsProcessed: s.TotalEvents,
		EventsByType:         counts,
		Running:              s.Running,
		HistorySize:          s.History.Len(),
		HandlerFailures:      s.HandlerFailures,
	}
}
