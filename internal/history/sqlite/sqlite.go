package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/loykin/composr/internal/history"
	_ "modernc.org/sqlite"
)

// Sink appends run lifecycle events to a SQLite database. modernc.org/sqlite
// keeps the build CGO-free.
type Sink struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and ensures the
// schema. Accepts "sqlite:///path", a bare path, or ":memory:".
func New(path string) (*Sink, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "sqlite://")
	if p == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialize writers instead of failing fast on contention.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS run_history(
			id TEXT PRIMARY KEY,
			occurred_at TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			run_name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			command TEXT NOT NULL,
			log_file TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_history_name ON run_history(run_name);`,
		`CREATE INDEX IF NOT EXISTS idx_run_history_event ON run_history(event);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history(id, occurred_at, event, run_name, pid, command, log_file, exit_code)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.RunName, e.PID, e.Command, e.LogFile, e.ExitCode)
	return err
}

func (s *Sink) Close() error { return s.db.Close() }
