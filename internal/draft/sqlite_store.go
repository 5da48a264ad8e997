package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps sort lexicographically, so expiry can be compared in SQL.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// OpenDB opens the draft database at path (":memory:" for tests) and initializes its schema.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open draft database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if err := InitDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InitDB initializes the draft schema.
func InitDB(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS draft (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		saved_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_draft_expires_at ON draft(expires_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create draft schema: %w", err)
	}
	return nil
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new draft store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get retrieves a draft by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (Draft, error) {
	row := s.db.QueryRowContext(ctx, "SELECT key, kind, payload, saved_at, expires_at FROM draft WHERE key = ?", key)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("failed to read draft %s: %w", key, err)
	}
	return d, nil
}

// Save inserts or replaces a draft.
func (s *SQLiteStore) Save(ctx context.Context, d Draft) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO draft (key, kind, payload, saved_at, expires_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(key) DO UPDATE SET kind=excluded.kind, payload=excluded.payload, saved_at=excluded.saved_at, expires_at=excluded.expires_at",
		d.Key, d.Kind, string(d.Payload), d.SavedAt.UTC().Format(timeFormat), d.ExpiresAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to save draft %s: %w", d.Key, err)
	}
	return nil
}

// Delete removes a draft. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM draft WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", key, err)
	}
	return nil
}

// List retrieves all drafts, most recently saved first.
func (s *SQLiteStore) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, kind, payload, saved_at, expires_at FROM draft ORDER BY saved_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var results []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// DeleteExpired removes every draft expired at now and returns how many were removed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM draft WHERE expires_at <= ?", now.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to purge drafts: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (Draft, error) {
	var d Draft
	var payload, savedStr, expiresStr string
	if err := row.Scan(&d.Key, &d.Kind, &payload, &savedStr, &expiresStr); err != nil {
		return Draft{}, err
	}
	d.Payload = []byte(payload)

	var err error
	if d.SavedAt, err = time.Parse(timeFormat, savedStr); err != nil {
		return Draft{}, fmt.Errorf("invalid saved_at for draft %s: %w", d.Key, err)
	}
	if d.ExpiresAt, err = time.Parse(timeFormat, expiresStr); err != nil {
		return Draft{}, fmt.Errorf("invalid expires_at for draft %s: %w", d.Key, err)
	}
	return d, nil
}
