// Package store persists the outcome of carousel sagas.
package store

import (
	"context"
	"errors"

	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// Store persists saga records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save stores r, replacing any record with the same request id.
	Save(ctx context.Context, r saga.Record) error

	// Get returns the record for requestID or ErrNotFound.
	Get(ctx context.Context, requestID string) (saga.Record, error)

	// ListByChat returns a chat's records, newest first. limit <= 0 means
	// no limit. An unknown chat yields an empty slice.
	ListByChat(ctx context.Context, chatID int64, limit int) ([]saga.Record, error)

	// CountByStatus returns how many records each status has.
	CountByStatus(ctx context.Context) (map[saga.Status]int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("record store closed")

	// ErrMissingRequestID rejects records without a key.
	ErrMissingRequestID = errors.New("record has no request id")
)
