package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mirrortap/mirrortap/internal/event"
)

// Sink archives event records to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite archive sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only archive table, no primary key.
	stmt := `CREATE TABLE IF NOT EXISTS captured_events(
		received_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		payload TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, rec event.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captured_events(received_at, seq, name, batch_id, payload)
		VALUES(?, ?, ?, ?, ?);`,
		rec.ReceivedAt.UTC(), rec.Seq, rec.Name, rec.BatchID, string(rec.Payload))
	return err
}

// CountByName is a debugging helper for post-run inspection.
func (s *Sink) CountByName(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM captured_events WHERE name = ?;`, name).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
