package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

type PostgresConfig struct {
	Logger *slog.Logger

	DSN   string
	Table string

	// RunID tags every inserted row; zero means a fresh ID per sink.
	RunID uuid.UUID
}

func (c *PostgresConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.DSN == "" {
		return fmt.Errorf("DSN is required")
	}
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.RunID == uuid.Nil {
		c.RunID = uuid.New()
	}
	return nil
}

// Postgres loads combined tables into a PostgreSQL table.
type Postgres struct {
	cfg  *PostgresConfig
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg *PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	cfg.Logger.Info("PostgreSQL sink initialized", "table", cfg.Table)
	return &Postgres{cfg: cfg, pool: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// Emit creates the destination table when missing and loads every combined
// row with a single COPY.
func (s *Postgres) Emit(ctx context.Context, table *stitch.CombinedTable) error {
	cols := columnNames(table.Columns)
	if err := s.ensureTable(ctx, cols); err != nil {
		return err
	}

	copyCols := append([]string{"run_id", "downloaded_at"}, cols...)
	downloadedAt := time.Now().UTC()
	runID := s.cfg.RunID.String()

	copied, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.cfg.Table}, copyCols,
		pgx.CopyFromSlice(len(table.Rows), func(i int) ([]any, error) {
			row := table.Rows[i]
			vals := make([]any, 0, len(copyCols))
			vals = append(vals, runID, downloadedAt)
			for _, col := range table.Columns {
				vals = append(vals, row[col.Name])
			}
			return vals, nil
		}))
	if err != nil {
		return fmt.Errorf("failed to copy rows into %s: %w", s.cfg.Table, err)
	}

	metrics.RowsEmittedTotal.WithLabelValues("postgres").Add(float64(copied))
	s.cfg.Logger.Info("Loaded combined table into PostgreSQL", "table", s.cfg.Table, "rows", copied, "run_id", runID)
	return nil
}

func (s *Postgres) ensureTable(ctx context.Context, cols []string) error {
	defs := []string{`"run_id" text NOT NULL`, `"downloaded_at" timestamptz NOT NULL`}
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%q text", col))
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.cfg.Table, strings.Join(defs, ", "))
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.cfg.Table, err)
	}
	return nil
}
