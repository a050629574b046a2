package errorlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bilicache/bilicache/internal/rish"
	"github.com/bilicache/bilicache/internal/transfer"
)

// Event is one recorded failure (or success) of a pipeline operation.
type Event struct {
	ID        string    `json:"id"`
	T         int64     `json:"t"`
	Source    string    `json:"source"`
	Operation string    `json:"operation"`
	Kinds     []string  `json:"kinds"`
	Composite int64     `json:"composite"`
	LogValue  float64   `json:"log_value"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps events in a local sqlite database.
type Store struct {
	db       *sql.DB
	registry *Registry
}

// Open creates or opens the event database at path.
func Open(path string, registry *Registry) (*Store, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open event db: %w", err)
	}

	// WAL keeps concurrent readers cheap; busy_timeout rides out
	// overlapping writers.
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure event db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			t          INTEGER NOT NULL,
			source     TEXT NOT NULL,
			operation  TEXT NOT NULL,
			kinds      TEXT NOT NULL,
			composite  INTEGER NOT NULL,
			log_value  REAL NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS events_t ON events(t);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create events table: %w", err)
	}

	return &Store{db: db, registry: registry}, nil
}

// Registry returns the prime mapping backing this store.
func (s *Store) Registry() *Registry { return s.registry }

// Record appends one event. kinds may be empty for a clean call.
func (s *Store) Record(ctx context.Context, source, operation string, kinds []string) (Event, error) {
	if len(kinds) == 0 {
		kinds = []string{KindNone}
	}
	rawKinds, err := json.Marshal(kinds)
	if err != nil {
		return Event{}, err
	}

	e := Event{
		ID:        uuid.NewString(),
		Source:    source,
		Operation: operation,
		Kinds:     kinds,
		Composite: s.registry.Composite(kinds),
		LogValue:  s.registry.LogComposite(kinds),
		CreatedAt: time.Now().UTC(),
	}

	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(t), -1) + 1 FROM events`)
	if err := row.Scan(&e.T); err != nil {
		return Event{}, fmt.Errorf("next event index: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, t, source, operation, kinds, composite, log_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.T, e.Source, e.Operation, string(rawKinds), e.Composite, e.LogValue,
		e.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// RecordError classifies err and records it in one step. A nil err
// records a clean call.
func (s *Store) RecordError(ctx context.Context, source, operation string, err error) (Event, error) {
	if err == nil {
		return s.Record(ctx, source, operation, nil)
	}
	return s.Record(ctx, source, operation, []string{Classify(err)})
}

// Events returns all events ordered by index.
func (s *Store) Events(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, t, source, operation, kinds, composite, log_value, created_at
		FROM events ORDER BY t`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var rawKinds, createdAt string
		if err := rows.Scan(&e.ID, &e.T, &e.Source, &e.Operation, &rawKinds, &e.Composite, &e.LogValue, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawKinds), &e.Kinds); err != nil {
			return nil, fmt.Errorf("event %s: bad kinds: %w", e.ID, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Classify maps pipeline errors onto error kinds.
func Classify(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, rish.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, rish.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, rish.ErrChannelUnavailable):
		return KindNetworkError
	case errors.Is(err, transfer.ErrSourceNotFound), errors.Is(err, os.ErrNotExist):
		return KindFileNotFound
	case errors.Is(err, transfer.ErrChecksumMismatch),
		errors.Is(err, transfer.ErrOverlapMismatch),
		errors.Is(err, transfer.ErrSizeMismatch):
		return KindChecksum
	default:
		return KindUnknown
	}
}
