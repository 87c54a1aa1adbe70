// Package sqlite implements store.Journal using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jxucoder/livecoder/model"
	"github.com/jxucoder/livecoder/store"
)

// Store keeps the journal in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Journal = (*Store)(nil)

// NewMemory opens a private in-memory database. Its contents live as long as
// the Store.
func NewMemory() (*Store, error) {
	return New("file:livecoder-" + uuid.NewString() + "?mode=memory")
}

// New opens (or creates) a SQLite database at the given DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			data       TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts an event.
func (s *Store) Append(ctx context.Context, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data := string(e.Data)
	if data == "" {
		data = "null"
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (type, data, created_at) VALUES (?, ?, ?)`,
		e.Type, data, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Events returns events with id > afterID, oldest first.
func (s *Store) Events(ctx context.Context, afterID int64, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data, created_at
		 FROM events
		 WHERE id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		e := &model.Event{}
		var data string
		if err := rows.Scan(&e.ID, &e.Type, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = []byte(data)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events of type t, or of all types if t is empty.
func (s *Store) Count(ctx context.Context, t model.EventType) (int, error) {
	var n int
	var err error
	if t == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE type = ?`, t).Scan(&n)
	}
	return n, err
}
