package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// migrations are applied in order; PRAGMA user_version records progress.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS carousel_records (
		request_id     TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		chat_id        INTEGER NOT NULL,
		user_id        TEXT NOT NULL DEFAULT '',
		topic          TEXT NOT NULL,
		status         TEXT NOT NULL,
		slide_count    INTEGER NOT NULL DEFAULT 0,
		image_urls     TEXT NOT NULL DEFAULT '[]',
		error_code     TEXT NOT NULL DEFAULT '',
		error_message  TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_carousel_records_chat
		ON carousel_records(chat_id, created_at DESC)`,
}

// timeLayout keeps created_at lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists records to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path.
// The path should be a file path (e.g., "./carousels.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, r saga.Record) error {
	if r.RequestID == "" {
		return ErrMissingRequestID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	urls := r.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO carousel_records (
			request_id, correlation_id, chat_id, user_id, topic, status,
			slide_count, image_urls, error_code, error_message, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET
			correlation_id = excluded.correlation_id,
			status = excluded.status,
			slide_count = excluded.slide_count,
			image_urls = excluded.image_urls,
			error_code = excluded.error_code,
			error_message = excluded.error_message
	`,
		r.RequestID, r.CorrelationID, r.ChatID, r.UserID, r.Topic, string(r.Status),
		r.SlideCount, string(encoded), r.ErrorCode, r.ErrorMessage,
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT request_id, correlation_id, chat_id, user_id, topic, status,
		slide_count, image_urls, error_code, error_message, created_at
	FROM carousel_records`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (saga.Record, error) {
	var (
		r       saga.Record
		status  string
		urls    string
		created string
	)
	err := row.Scan(&r.RequestID, &r.CorrelationID, &r.ChatID, &r.UserID, &r.Topic, &status,
		&r.SlideCount, &urls, &r.ErrorCode, &r.ErrorMessage, &created)
	if err != nil {
		return saga.Record{}, err
	}
	r.Status = saga.Status(status)
	if err := json.Unmarshal([]byte(urls), &r.ImageURLs); err != nil {
		return saga.Record{}, fmt.Errorf("decode image urls: %w", err)
	}
	if len(r.ImageURLs) == 0 {
		r.ImageURLs = nil
	}
	r.CreatedAt, _ = time.Parse(timeLayout, created)
	return r, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, requestID string) (saga.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return saga.Record{}, ErrStoreClosed
	}

	r, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE request_id = ?`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return saga.Record{}, ErrNotFound
	}
	if err != nil {
		return saga.Record{}, fmt.Errorf("load record: %w", err)
	}
	return r, nil
}

// ListByChat implements Store.
func (s *SQLiteStore) ListByChat(ctx context.Context, chatID int64, limit int) ([]saga.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE chat_id = ? ORDER BY created_at DESC, request_id LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]saga.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// CountByStatus implements Store.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[saga.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM carousel_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[saga.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[saga.Status(status)] = n
	}
	return counts, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
