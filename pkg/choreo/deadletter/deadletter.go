// Package deadletter keeps handler failures for inspection and replay.
//
// A Consumer subscribes to workflow.handler.failed and enqueues one Entry per
// failed subscription. Entries become ready for replay after RetryDelay; a
// Replayer redelivers ready entries to their original subscription only. An
// entry that keeps failing is parked after MaxReplays and never replayed
// automatically again. Failures of the saga stage consumers are recorded but
// parked at once, since the saga has already ended with
// carousel.generate.failed.
package deadletter

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/choreo/pkg/choreo/event"
	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// Errors returned by the queue.
var (
	ErrFull     = errors.New("deadletter: queue is full")
	ErrNotFound = errors.New("deadletter: entry not found")
)

// Park reasons.
const (
	ReasonMaxReplays    = "max replays exceeded"
	ReasonNotReplayable = "not replayable"
	ReasonManual        = "parked by operator"
)

// Entry is one failed delivery of an envelope to a subscription.
type Entry struct {
	ID             string          `json:"id"`
	Envelope       *event.Envelope `json:"envelope"`
	SubscriptionID string          `json:"subscription_id"`
	Handler        string          `json:"handler"`
	Error          event.ErrorInfo `json:"error"`
	Attempts       int             `json:"attempts"`
	Replays        int             `json:"replays"`
	FirstFailedAt  time.Time       `json:"first_failed_at"`
	LastFailedAt   time.Time       `json:"last_failed_at"`
	NextReplayAt   time.Time       `json:"next_replay_at"`
}

// Parked is an entry withdrawn from automatic replay.
type Parked struct {
	Entry
	Reason   string    `json:"reason"`
	ParkedAt time.Time `json:"parked_at"`
}

// EntryID identifies the delivery of envelope envID to subscription subID.
func EntryID(envID, subID string) string {
	return envID + "/" + subID
}

// Config configures a Queue.
type Config struct {
	// MaxSize limits the number of waiting entries.
	// Default: 1000
	MaxSize int

	// MaxReplays before an entry is parked.
	// Default: 3
	MaxReplays int

	// RetryDelay before an entry becomes ready again.
	// Default: 1 minute
	RetryDelay time.Duration

	// Replayable decides whether failures of an event type may be replayed.
	// Default: every type except the saga stage types.
	Replayable func(event.Type) bool

	// OnPark is called, outside the lock, when an entry is parked.
	OnPark func(Parked)

	// Now replaces the clock. Used by tests.
	Now func() time.Time
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize:    1000,
	MaxReplays: 3,
	RetryDelay: time.Minute,
}

func replayableByDefault(t event.Type) bool {
	return !saga.IsStage(t)
}

// Queue is an in-memory dead letter queue with a parked list. It is safe
// for concurrent use.
type Queue struct {
	mu      sync.Mutex
	waiting map[string]*Entry
	parked  map[string]*Parked
	cfg     Config

	enqueued  uint64
	recovered uint64
}

// NewQueue creates a queue. Zero fields of cfg take DefaultConfig values.
func NewQueue(cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	if cfg.MaxReplays <= 0 {
		cfg.MaxReplays = DefaultConfig.MaxReplays
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig.RetryDelay
	}
	if cfg.Replayable == nil {
		cfg.Replayable = replayableByDefault
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		waiting: make(map[string]*Entry),
		parked:  make(map[string]*Parked),
		cfg:     cfg,
	}
}

// Enqueue records a failure. A failure for an entry that is already waiting
// updates it in place.
func (q *Queue) Enqueue(e Entry) error {
	now := q.cfg.Now()
	if e.ID == "" {
		if e.Envelope == nil {
			return errors.New("deadletter: entry needs an id or an envelope")
		}
		e.ID = EntryID(e.Envelope.ID(), e.SubscriptionID)
	}
	if e.FirstFailedAt.IsZero() {
		e.FirstFailedAt = now
	}
	e.LastFailedAt = now

	q.mu.Lock()
	if existing, ok := q.waiting[e.ID]; ok {
		existing.Error = e.Error
		existing.Attempts += e.Attempts
		existing.LastFailedAt = now
		q.mu.Unlock()
		return nil
	}
	if _, ok := q.parked[e.ID]; ok {
		q.mu.Unlock()
		return nil
	}

	if e.Envelope != nil && !q.cfg.Replayable(e.Envelope.Type()) {
		p := q.parkLocked(&e, ReasonNotReplayable, now)
		q.enqueued++
		q.mu.Unlock()
		q.notifyPark(p)
		return nil
	}

	if len(q.waiting) >= q.cfg.MaxSize {
		q.mu.Unlock()
		return fmt.Errorf("%w (%d entries)", ErrFull, q.cfg.MaxSize)
	}
	e.NextReplayAt = now.Add(q.cfg.RetryDelay)
	q.waiting[e.ID] = &e
	q.enqueued++
	q.mu.Unlock()
	return nil
}

// Ready removes and returns up to limit waiting entries whose replay time
// has come, oldest failure first. Callers must report the outcome with
// Acknowledge or Failed.
func (q *Queue) Ready(limit int) []Entry {
	now := q.cfg.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*Entry
	for _, e := range q.waiting {
		if !e.NextReplayAt.After(now) {
			ready = append(ready, e)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].FirstFailedAt.Before(ready[j].FirstFailedAt)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]Entry, len(ready))
	for i, e := range ready {
		out[i] = *e
		delete(q.waiting, e.ID)
	}
	return out
}

// Take removes one waiting entry regardless of its replay time.
func (q *Queue) Take(id string) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.waiting[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(q.waiting, id)
	return *e, nil
}

// Acknowledge records a successful replay of an entry taken from the queue.
func (q *Queue) Acknowledge(Entry) {
	q.mu.Lock()
	q.recovered++
	q.mu.Unlock()
}

// Failed puts back an entry whose replay failed, or parks it once it has
// used up its replays.
func (q *Queue) Failed(e Entry, info event.ErrorInfo) {
	now := q.cfg.Now()
	e.Replays++
	e.Error = info
	e.LastFailedAt = now

	q.mu.Lock()
	if e.Replays >= q.cfg.MaxReplays {
		p := q.parkLocked(&e, ReasonMaxReplays, now)
		q.mu.Unlock()
		q.notifyPark(p)
		return
	}
	e.NextReplayAt = now.Add(q.cfg.RetryDelay * time.Duration(e.Replays+1))
	q.waiting[e.ID] = &e
	q.mu.Unlock()
}

// Park withdraws a waiting entry from replay.
func (q *Queue) Park(id, reason string) error {
	if reason == "" {
		reason = ReasonManual
	}
	q.mu.Lock()
	e, ok := q.waiting[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(q.waiting, id)
	p := q.parkLocked(e, reason, q.cfg.Now())
	q.mu.Unlock()
	q.notifyPark(p)
	return nil
}

func (q *Queue) parkLocked(e *Entry, reason string, now time.Time) Parked {
	p := &Parked{Entry: *e, Reason: reason, ParkedAt: now}
	p.NextReplayAt = time.Time{}
	q.parked[e.ID] = p
	return *p
}

func (q *Queue) notifyPark(p Parked) {
	if q.cfg.OnPark != nil {
		q.cfg.OnPark(p)
	}
}

// Waiting returns the waiting entries, oldest failure first.
func (q *Queue) Waiting() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.waiting))
	for _, e := range q.waiting {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstFailedAt.Before(out[j].FirstFailedAt) })
	return out
}

// ParkedEntries returns the parked entries, most recently parked last.
func (q *Queue) ParkedEntries() []Parked {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Parked, 0, len(q.parked))
	for _, p := range q.parked {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParkedAt.Before(out[j].ParkedAt) })
	return out
}

// Stats summarizes the queue.
type Stats struct {
	Waiting   int    `json:"waiting"`
	Parked    int    `json:"parked"`
	Enqueued  uint64 `json:"enqueued"`
	Recovered uint64 `json:"recovered"`
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Waiting:   len(q.waiting),
		Parked:    len(q.parked),
		Enqueued:  q.enqueued,
		Recovered: q.recovered,
	}
}
