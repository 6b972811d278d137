package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/composr/internal/history"
)

// Sink appends run lifecycle events to a PostgreSQL table via the pgx
// stdlib driver.
type Sink struct {
	db *sql.DB
}

// New connects using a postgres:// DSN and ensures the schema.
func New(dsn string) (*Sink, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
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
			occurred_at TIMESTAMPTZ NOT NULL,
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
		VALUES($1, $2, $3, $4, $5, $6, $7, $8);`,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.RunName, e.PID, e.Command, e.LogFile, e.ExitCode)
	return err
}

func (s *Sink) Close() error { return s.db.Close() }
