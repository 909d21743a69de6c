// Package emit serializes combined tables for output.
package emit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/schema"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

// Emitter writes a combined table to its destination.
type Emitter interface {
	Emit(ctx context.Context, table *stitch.CombinedTable) error
}

type CSVConfig struct {
	Writer io.Writer

	// Delimiter separates fields; zero means comma.
	Delimiter rune

	SkipHeader      bool
	SkipTranslation bool

	// DimensionNames appends the dimension name to translated header
	// labels, as "Label (ga:name)".
	DimensionNames bool
}

func (c *CSVConfig) Validate() error {
	if c.Writer == nil {
		return fmt.Errorf("writer is required")
	}
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	return nil
}

// CSV emits a combined table as delimited rows, columns in table order.
type CSV struct {
	cfg *CSVConfig
}

func NewCSV(cfg *CSVConfig) (*CSV, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &CSV{cfg: cfg}, nil
}

func (e *CSV) Emit(ctx context.Context, table *stitch.CombinedTable) error {
	w := csv.NewWriter(e.cfg.Writer)
	w.Comma = e.cfg.Delimiter

	if !e.cfg.SkipHeader {
		if err := w.Write(e.header(table.Columns)); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, row := range table.Rows {
		record := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			record[i] = row[col.Name]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	metrics.RowsEmittedTotal.WithLabelValues("csv").Add(float64(len(table.Rows)))
	return nil
}

func (e *CSV) header(cols []schema.Dimension) []string {
	h := make([]string, len(cols))
	for i, d := range cols {
		switch {
		case e.cfg.SkipTranslation:
			h[i] = d.Name
		case e.cfg.DimensionNames && d.Label != d.Name:
			h[i] = fmt.Sprintf("%s (%s)", d.Label, d.Name)
		default:
			h[i] = d.Label
		}
	}
	return h
}
