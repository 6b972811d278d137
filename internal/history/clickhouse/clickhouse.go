package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/loykin/composr/internal/history"
)

// Sink sends run lifecycle events to ClickHouse using the official client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr ("host:port") and ensures the target table.
func New(addr, database, username, password, table string) (*Sink, error) {
	if database == "" {
		database = "default"
	}
	if username == "" {
		username = "default"
	}
	if table == "" {
		table = "run_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id String,
			occurred_at DateTime64(3, 'UTC'),
			event String,
			run_name String,
			pid Int64,
			command String,
			log_file String,
			exit_code Int32
		) ENGINE = MergeTree()
		ORDER BY (run_name, occurred_at)`, s.table)
	if err := s.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (id, occurred_at, event, run_name, pid, command, log_file, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	return s.conn.Exec(ctx, q,
		e.ID, e.OccurredAt.UTC(), string(e.Type), e.RunName, int64(e.PID), e.Command, e.LogFile, int32(e.ExitCode))
}

func (s *Sink) Close() error { return s.conn.Close() }
