package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/choreo/pkg/choreo/saga"
	"github.com/randalmurphal/choreo/pkg/choreo/store"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id string, chat int64, status saga.Status, offset time.Duration) saga.Record {
	return saga.Record{
		RequestID:     id,
		CorrelationID: "corr-" + id,
		ChatID:        chat,
		UserID:        "u-1",
		Topic:         "Topic " + id,
		Status:        status,
		CreatedAt:     base.Add(offset),
	}
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Save_and_Get", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		r := record("req-1", 42, saga.StatusCompleted, 0)
		r.SlideCount = 3
		r.ImageURLs = []string{"https://img/1.png", "https://img/2.png", "https://img/3.png"}
		require.NoError(t, s.Save(ctx, r))

		got, err := s.Get(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, r, got)
	})

	t.Run(name+"/Get_NotFound", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run(name+"/Save_Upsert", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, record("req-1", 42, saga.StatusCompleted, 0)))
		failed := record("req-1", 42, saga.StatusFailed, 0)
		failed.ErrorCode = "HANDLER_EXECUTION_ERROR"
		failed.ErrorMessage = "render timed out"
		require.NoError(t, s.Save(ctx, failed))

		got, err := s.Get(ctx, "req-1")
		require.NoError(t, err)
		assert.Equal(t, saga.StatusFailed, got.Status)
		assert.Equal(t, "render timed out", got.ErrorMessage)

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[saga.Status]int{saga.StatusFailed: 1}, counts)
	})

	t.Run(name+"/Save_MissingRequestID", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		assert.ErrorIs(t, s.Save(ctx, saga.Record{Topic: "x"}), store.ErrMissingRequestID)
	})

	t.Run(name+"/ListByChat", func(t *testing.T) {
		s := factory(t)
		defer s.Close()

		require.NoError(t, s.Save(ctx, record("a", 1, saga.StatusCompleted, time.Minute)))
		require.NoError(t, s.Save(ctx, record("b", 1, saga.StatusFailed, 3*time.Minute)))
		require.NoError(t, s.Save(ctx, record("c", 1, saga.StatusCompleted, 2*time.Minute)))
		require.NoError(t, s.Save(ctx, record("d", 2, saga.StatusCompleted, 0)))

		all, err := s.ListByChat(ctx, 1, 0)
		require.NoError(t, err)
		ids := make([]string, len(all))
		for i, r := range all {
			ids[i] = r.RequestID
		}
		assert.Equal(t, []string{"b", "c", "a"}, ids)

		limited, err := s.ListByChat(ctx, 1, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := s.ListByChat(ctx, 99, 0)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)

		counts, err := s.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, counts[saga.StatusCompleted])
		assert.Equal(t, 1, counts[saga.StatusFailed])
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.Close())

		assert.ErrorIs(t, s.Save(ctx, record("x", 1, saga.StatusCompleted, 0)), store.ErrStoreClosed)
		_, err := s.Get(ctx, "x")
		assert.ErrorIs(t, err, store.ErrStoreClosed)
		_, err = s.ListByChat(ctx, 1, 0)
		assert.ErrorIs(t, err, store.ErrStoreClosed)
		_, err = s.CountByStatus(ctx)
		assert.ErrorIs(t, err, store.ErrStoreClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	storeContractTest(t, "MemoryStore", func(t *testing.T) store.Store {
		return store.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContractTest(t, "SQLiteStore", func(t *testing.T) store.Store {
		s, err := store.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStore_SatisfiesRecordStore(t *testing.T) {
	var _ saga.RecordStore = store.NewMemoryStore()
}
