package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

type ClickHouseConfig struct {
	Logger *slog.Logger

	Addr     string
	Database string
	Table    string
	Username string
	Password string
	Secure   bool

	// RunID tags every inserted row; zero means a fresh ID per sink.
	RunID uuid.UUID
}

func (c *ClickHouseConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.Database == "" {
		c.Database = "default"
	}
	if c.Username == "" {
		c.Username = "default"
	}
	if c.RunID == uuid.Nil {
		c.RunID = uuid.New()
	}
	return nil
}

// ClickHouse loads combined tables into a ClickHouse table.
type ClickHouse struct {
	cfg  *ClickHouseConfig
	conn driver.Conn
}

func NewClickHouse(ctx context.Context, cfg *ClickHouseConfig) (*ClickHouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	}
	// Enable TLS for ClickHouse Cloud (port 9440)
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	cfg.Logger.Info("ClickHouse sink initialized", "addr", cfg.Addr, "database", cfg.Database, "table", cfg.Table, "secure", cfg.Secure)
	return &ClickHouse{cfg: cfg, conn: conn}, nil
}

func (s *ClickHouse) Close() error {
	return s.conn.Close()
}

// Emit creates the destination table when missing and loads every combined
// row in a single batch insert.
func (s *ClickHouse) Emit(ctx context.Context, table *stitch.CombinedTable) error {
	cols := columnNames(table.Columns)
	if err := s.ensureTable(ctx, cols); err != nil {
		return err
	}

	insert := fmt.Sprintf("INSERT INTO %s (`run_id`, `downloaded_at`, %s)",
		s.cfg.Table, "`"+strings.Join(cols, "`, `")+"`")
	batch, err := s.conn.PrepareBatch(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	downloadedAt := time.Now().UTC().Truncate(time.Millisecond)
	for _, row := range table.Rows {
		vals := make([]any, 0, len(cols)+2)
		vals = append(vals, s.cfg.RunID, downloadedAt)
		for _, col := range table.Columns {
			vals = append(vals, row[col.Name])
		}
		if err := batch.Append(vals...); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	metrics.RowsEmittedTotal.WithLabelValues("clickhouse").Add(float64(len(table.Rows)))
	s.cfg.Logger.Info("Loaded combined table into ClickHouse", "table", s.cfg.Table, "rows", len(table.Rows), "run_id", s.cfg.RunID)
	return nil
}

func (s *ClickHouse) ensureTable(ctx context.Context, cols []string) error {
	defs := []string{"`run_id` UUID", "`downloaded_at` DateTime64(3)"}
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("`%s` String", col))
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY (downloaded_at, run_id)",
		s.cfg.Table, strings.Join(defs, ", "))
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.cfg.Table, err)
	}
	return nil
}
