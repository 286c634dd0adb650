package recordstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/commkeep/commkeep/internal/record"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store is the local archive of messages and call-log entries. The
// underlying handle must not be shared across connections, so the pool is
// capped at a single open connection and every query goes through it.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive database.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer, single reader context.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Connected reports whether the archive handle is usable.
func (s *Store) Connected() bool {
	return s.db.Ping() == nil
}

// Messages returns messages with id strictly greater than sinceID, ascending
// by id. A limit <= 0 means no cap.
func (s *Store) Messages(ctx context.Context, sinceID int64, limit int) ([]record.Message, error) {
	q := `
		SELECT id, occurred_at, counterparty, direction, body, has_attachment
		FROM messages
		WHERE id > ?
		ORDER BY id`
	args := []any{sinceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []record.Message
	for rows.Next() {
		var (
			m          record.Message
			occurredAt int64
			body       sql.NullString
			attachment int
		)
		if err := rows.Scan(&m.ID, &occurredAt, &m.Counterparty, &m.Direction, &body, &attachment); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.OccurredAt = time.Unix(occurredAt, 0).UTC()
		m.Body = body.String
		m.HasAttachment = attachment != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// Calls returns call records with id strictly greater than sinceID,
// ascending by id. A limit <= 0 means no cap.
func (s *Store) Calls(ctx context.Context, sinceID int64, limit int) ([]record.CallRecord, error) {
	q := `
		SELECT id, occurred_at, counterparty, direction, duration_secs
		FROM calls
		WHERE id > ?
		ORDER BY id`
	args := []any{sinceID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var out []record.CallRecord
	for rows.Next() {
		var (
			c          record.CallRecord
			occurredAt int64
			durSecs    int64
		)
		if err := rows.Scan(&c.ID, &occurredAt, &c.Counterparty, &c.Direction, &durSecs); err != nil {
			return nil, fmt.Errorf("failed to scan call row: %w", err)
		}
		c.OccurredAt = time.Unix(occurredAt, 0).UTC()
		c.Duration = time.Duration(durSecs) * time.Second
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountMessages counts messages with id strictly greater than sinceID.
func (s *Store) CountMessages(ctx context.Context, sinceID int64) (int, error) {
	return s.count(ctx, "messages", sinceID)
}

// CountCalls counts call records with id strictly greater than sinceID.
func (s *Store) CountCalls(ctx context.Context, sinceID int64) (int, error) {
	return s.count(ctx, "calls", sinceID)
}

func (s *Store) count(ctx context.Context, table string, sinceID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id > ?", sinceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// InsertMessage appends a message to the archive and returns its id.
func (s *Store) InsertMessage(ctx context.Context, m record.Message) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (occurred_at, counterparty, direction, body, has_attachment)
		VALUES (?, ?, ?, ?, ?)
	`, m.OccurredAt.Unix(), m.Counterparty, string(m.Direction), m.Body, boolToInt(m.HasAttachment))
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// InsertCall appends a call record to the archive and returns its id.
func (s *Store) InsertCall(ctx context.Context, c record.CallRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (occurred_at, counterparty, direction, duration_secs)
		VALUES (?, ?, ?, ?)
	`, c.OccurredAt.Unix(), c.Counterparty, string(c.Direction), int64(c.Duration/time.Second))
	if err != nil {
		return 0, fmt.Errorf("failed to insert call: %w", err)
	}
	return res.LastInsertId()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
