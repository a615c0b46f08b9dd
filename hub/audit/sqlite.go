package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store using SQLite.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database and creates the audit table.
func NewSQLite(dsn string) (*SQLite, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// created_at is unix milliseconds so range deletes compare numerically.
func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			server_id TEXT NOT NULL DEFAULT '',
			session_hash TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL DEFAULT '',
			remote_addr TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_server_id ON audit_events(server_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Log(ctx context.Context, event *Event) error {
	prepare(event)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, action, server_id, session_hash, command, remote_addr, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, event.ServerID, event.SessionHash, event.Command, event.RemoteAddr,
		string(event.Detail), event.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLite) List(ctx context.Context, limit, offset int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, server_id, session_hash, command, remote_addr, detail, created_at
		 FROM audit_events ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := []Event{}
	for rows.Next() {
		var e Event
		var detail string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Action, &e.ServerID, &e.SessionHash, &e.Command, &e.RemoteAddr, &detail, &createdAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = []byte(detail)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLite) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < ?", before.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
