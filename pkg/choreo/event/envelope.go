package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0"

// DefaultSource is used when the producer does not name itself.
const DefaultSource = "unknown"

// Metadata is carried beside the payload.
type Metadata struct {
	UserID      string `json:"user_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Environment string `json:"environment,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
	SpanID      string `json:"span_id,omitempty"`
}

// Merge returns m with every non-empty field of o applied on top.
func (m Metadata) Merge(o Metadata) Metadata {
	if o.UserID != "" {
		m.UserID = o.UserID
	}
	if o.SessionID != "" {
		m.SessionID = o.SessionID
	}
	if o.RequestID != "" {
		m.RequestID = o.RequestID
	}
	if o.Environment != "" {
		m.Environment = o.Environment
	}
	if o.TraceID != "" {
		m.TraceID = o.TraceID
	}
	if o.SpanID != "" {
		m.SpanID = o.SpanID
	}
	return m
}

// Envelope is an immutable event record. Build one with Build or
// BuildCorrelated; the zero value is not useful.
type Envelope struct {
	id            string
	typ           Type
	timestamp     time.Time
	version       string
	source        string
	payload       Payload
	metadata      Metadata
	correlationID string
	causationID   string
}

// ID returns the unique envelope identifier.
func (e *Envelope) ID() string { return e.id }

// Type returns the catalog type, derived from the payload.
func (e *Envelope) Type() Type { return e.typ }

// Timestamp returns when the envelope was built.
func (e *Envelope) Timestamp() time.Time { return e.timestamp }

// Version returns the schema version tag.
func (e *Envelope) Version() string { return e.version }

// Source returns the producing service.
func (e *Envelope) Source() string { return e.source }

// Payload returns the event payload.
func (e *Envelope) Payload() Payload { return e.payload }

// Metadata returns the metadata block.
func (e *Envelope) Metadata() Metadata { return e.metadata }

// CorrelationID returns the chain this envelope belongs to, or "".
func (e *Envelope) CorrelationID() string { return e.correlationID }

// CausationID returns the id of the envelope that triggered this one, or "".
func (e *Envelope) CausationID() string { return e.causationID }

// ChainID returns the correlation id, or the envelope's own id when it
// started the chain.
func (e *Envelope) ChainID() string {
	if e.correlationID != "" {
		return e.correlationID
	}
	return e.id
}

// String returns a short description for logs.
func (e *Envelope) String() string {
	return fmt.Sprintf("%s(%s)", e.typ, e.id)
}

type envelopeJSON struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.typ, err)
	}
	return json.Marshal(envelopeJSON{
		ID:            e.id,
		Type:          e.typ,
		Timestamp:     e.timestamp,
		Version:       e.version,
		Source:        e.source,
		Payload:       payload,
		Metadata:      e.metadata,
		CorrelationID: e.correlationID,
		CausationID:   e.causationID,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The payload is decoded through
// the catalog, so unknown types are rejected.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = Envelope{
		id:            raw.ID,
		typ:           raw.Type,
		timestamp:     raw.Timestamp,
		version:       raw.Version,
		source:        raw.Source,
		payload:       payload,
		metadata:      raw.Metadata,
		correlationID: raw.CorrelationID,
		causationID:   raw.CausationID,
	}
	return nil
}

// Option configures envelope construction.
type Option func(*buildConfig)

type buildConfig struct {
	id        string
	source    string
	timestamp time.Time
	metadata  Metadata
	traceCtx  context.Context
}

// WithID sets a specific envelope ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(cfg *buildConfig) {
		cfg.id = id
	}
}

// WithSource names the producing service.
func WithSource(source string) Option {
	return func(cfg *buildConfig) {
		cfg.source = source
	}
}

// WithTimestamp sets a specific timestamp (default: now).
func WithTimestamp(t time.Time) Option {
	return func(cfg *buildConfig) {
		cfg.timestamp = t
	}
}

// WithMetadata applies metadata overrides. Non-empty fields win; repeated
// calls accumulate.
func WithMetadata(m Metadata) Option {
	return func(cfg *buildConfig) {
		cfg.metadata = cfg.metadata.Merge(m)
	}
}

// WithTraceContext fills TraceID and SpanID from the span in ctx, unless
// metadata overrides already set them.
func WithTraceContext(ctx context.Context) Option {
	return func(cfg *buildConfig) {
		cfg.traceCtx = ctx
	}
}

// Builder stamps envelopes for one producer.
type Builder struct {
	// Source is the producing service name.
	Source string

	// Environment is stamped into metadata when the caller leaves it empty.
	Environment string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID returns a fresh envelope id. Defaults to a random UUID.
	NewID func() string
}

// Build creates an envelope that starts a new chain.
func (b Builder) Build(p Payload, opts ...Option) *Envelope {
	return b.build(p, "", "", opts)
}

// BuildCorrelated creates an envelope inside an existing chain.
func (b Builder) BuildCorrelated(p Payload, correlationID, causationID string, opts ...Option) *Envelope {
	return b.build(p, correlationID, causationID, opts)
}

func (b Builder) build(p Payload, correlationID, causationID string, opts []Option) *Envelope {
	cfg := &buildConfig{source: b.Source}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.id == "" {
		if b.NewID != nil {
			cfg.id = b.NewID()
		} else {
			cfg.id = uuid.New().String()
		}
	}
	if cfg.timestamp.IsZero() {
		if b.Now != nil {
			cfg.timestamp = b.Now()
		} else {
			cfg.timestamp = time.Now()
		}
	}
	if cfg.source == "" {
		cfg.source = DefaultSource
	}

	meta := cfg.metadata
	if meta.Environment == "" {
		meta.Environment = b.Environment
	}
	if cfg.traceCtx != nil {
		if sc := trace.SpanContextFromContext(cfg.traceCtx); sc.IsValid() {
			if meta.TraceID == "" {
				meta.TraceID = sc.TraceID().String()
			}
			if meta.SpanID == "" {
				meta.SpanID = sc.SpanID().String()
			}
		}
	}

	var typ Type
	if p != nil {
		typ = p.EventType()
	}

	return &Envelope{
		id:            cfg.id,
		typ:           typ,
		timestamp:     cfg.timestamp,
		version:       SchemaVersion,
		source:        cfg.source,
		payload:       p,
		metadata:      meta,
		correlationID: correlationID,
		causationID:   causationID,
	}
}

// Build creates an envelope with the default builder.
func Build(p Payload, opts ...Option) *Envelope {
	return Builder{}.Build(p, opts...)
}

// BuildCorrelated creates a chained envelope with the default builder.
func BuildCorrelated(p Payload, correlationID, causationID string, opts ...Option) *Envelope {
	return Builder{}.BuildCorrelated(p, correlationID, causationID, opts...)
}
