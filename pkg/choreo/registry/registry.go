package registry

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	cherrors "github.com/randalmurphal/choreo/pkg/choreo/errors"
	"github.com/randalmurphal/choreo/pkg/choreo/event"
)

// Subscription binds a handler to one event type.
type Subscription struct {
	ID        string
	Type      event.Type
	Handler   event.Handler
	Name      string
	Priority  int
	Enabled   bool
	Timeout   time.Duration
	Retry     *cherrors.RetryConfig
	Sequence  uint64
	CreatedAt time.Time
}

// Option configures a subscription.
type Option func(*Subscription)

// WithName sets the display name used in logs and results.
func WithName(name string) Option {
	return func(s *Subscription) {
		s.Name = name
	}
}

// WithTimeout bounds each handler attempt for this subscription.
func WithTimeout(d time.Duration) Option {
	return func(s *Subscription) {
		s.Timeout = d
	}
}

// WithRetry overrides the dispatcher retry policy for this subscription.
func WithRetry(cfg cherrors.RetryConfig) Option {
	return func(s *Subscription) {
		s.Retry = &cfg
	}
}

// WithID sets a specific subscription id (default: random UUID).
func WithID(id string) Option {
	return func(s *Subscription) {
		s.ID = id
	}
}

// Disabled registers the subscription switched off.
func Disabled() Option {
	return func(s *Subscription) {
		s.Enabled = false
	}
}

// Registry is an immutable snapshot of subscriptions keyed by event type.
type Registry struct {
	byType map[event.Type][]Subscription
	byID   map[string]event.Type
	seq    uint64
}

// Empty returns a registry with no subscriptions.
func Empty() Registry {
	return Registry{}
}

// Add registers handler for t and returns the new snapshot and the
// subscription id. Higher priority runs first. An id given with WithID that
// is already registered replaces that subscription.
func (r Registry) Add(t event.Type, handler event.Handler, priority int, opts ...Option) (Registry, string) {
	sub := Subscription{
		Type:      t,
		Handler:   handler,
		Priority:  priority,
		Enabled:   true,
		Sequence:  r.seq + 1,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&sub)
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.Name == "" {
		sub.Name = event.HandlerName(handler)
	}

	base := r
	if _, exists := r.byID[sub.ID]; exists {
		base = r.Remove(sub.ID)
	}

	list := make([]Subscription, 0, len(base.byType[t])+1)
	list = append(list, base.byType[t]...)
	list = append(list, sub)
	slices.SortStableFunc(list, func(a, b Subscription) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	next := base.clone()
	next.byType[t] = list
	next.byID[sub.ID] = t
	next.seq = sub.Sequence
	return next, sub.ID
}

// Remove drops the subscription with the given id. Types left without
// subscriptions are removed. Unknown ids return an equal snapshot.
func (r Registry) Remove(id string) Registry {
	t, ok := r.byID[id]
	if !ok {
		return r
	}

	next := r.clone()
	delete(next.byID, id)

	list := make([]Subscription, 0, len(r.byType[t]))
	for _, s := range r.byType[t] {
		if s.ID != id {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		delete(next.byType, t)
	} else {
		next.byType[t] = list
	}
	return next
}

// SetEnabled switches a subscription on or off. The second result is false
// when the id is unknown.
func (r Registry) SetEnabled(id string, enabled bool) (Registry, bool) {
	t, ok := r.byID[id]
	if !ok {
		return r, false
	}

	list := slices.Clone(r.byType[t])
	for i := range list {
		if list[i].ID == id {
			list[i].Enabled = enabled
		}
	}

	next := r.clone()
	next.byType[t] = list
	return next, true
}

// ListFor returns the subscriptions for t in dispatch order. The result is
// a copy and never nil.
func (r Registry) ListFor(t event.Type) []Subscription {
	list := r.byType[t]
	out := make([]Subscription, len(list))
	copy(out, list)
	return out
}

// Enabled returns the enabled subscriptions for t in dispatch order.
func (r Registry) Enabled(t event.Type) []Subscription {
	out := make([]Subscription, 0, len(r.byType[t]))
	for _, s := range r.byType[t] {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Get returns the subscription with the given id.
func (r Registry) Get(id string) (Subscription, bool) {
	t, ok := r.byID[id]
	if !ok {
		return Subscription{}, false
	}
	for _, s := range r.byType[t] {
		if s.ID == id {
			return s, true
		}
	}
	return Subscription{}, false
}

// Counts returns the number of subscriptions per type.
func (r Registry) Counts() map[event.Type]int {
	out := make(map[event.Type]int, len(r.byType))
	for t, list := range r.byType {
		out[t] = len(list)
	}
	return out
}

// Types returns the subscribed types in sorted order.
func (r Registry) Types() []event.Type {
	out := make([]event.Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Len returns the total number of subscriptions.
func (r Registry) Len() int {
	return len(r.byID)
}

func (r Registry) clone() Registry {
	next := Registry{
		byType: make(map[event.Type][]Subscription, len(r.byType)+1),
		byID:   make(map[string]event.Type, len(r.byID)+1),
		seq:    r.seq,
	}
	for t, list := range r.byType {
		next.byType[t] = list
	}
	for id, t := range r.byID {
		next.byID[id] = t
	}
	return next
}
