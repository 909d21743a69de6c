// Package stitch reassembles the batched report downloads into a single
// combined table by hash-joining on the shared stitch dimensions.
package stitch

import (
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/tidemarkhq/gastitch/pkg/plan"
	"github.com/tidemarkhq/gastitch/pkg/schema"
)

// keySep separates stitch values inside a join key. The reporting API never
// returns control characters in dimension values.
const keySep = "\x1f"

// Row maps dimension names to their reported values.
type Row map[string]string

// RowSet is the downloaded result of one planned batch.
type RowSet struct {
	Spec plan.BatchSpec
	Rows []Row
}

// Policy controls what happens to an accumulated row whose stitch key has no
// match in an incoming row set.
type Policy string

const (
	// PolicyInner drops the row, mirroring the API's own behavior of
	// returning nothing for an incomplete dimension set.
	PolicyInner Policy = "inner"

	// PolicyLeft keeps the row, padding the incoming batch's dimensions
	// with the configured fill value.
	PolicyLeft Policy = "left"
)

// ParsePolicy parses a join policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyInner, PolicyLeft:
		return p, nil
	}
	return "", schema.ConfigErrorf("invalid join policy %q, expected inner or left", s)
}

// JoinError reports a row that cannot participate in a join because it lacks
// a value for a stitch dimension. The stitcher drops the row and keeps going.
type JoinError struct {
	Batch     string
	Dimension string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("row from %s has no value for stitch dimension %s", e.Batch, e.Dimension)
}

// CombinedTable is the stitched output: the ordered union of every batch's
// dimensions plus one row per joined combination.
type CombinedTable struct {
	Columns []schema.Dimension
	Rows    []Row

	// Warnings counts rows dropped or overwritten during the join.
	Warnings int
}

type Config struct {
	Logger *slog.Logger

	// StitchDims is the join key, in declaration order.
	StitchDims []string

	Policy    Policy
	FillValue string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if len(c.StitchDims) == 0 {
		return fmt.Errorf("stitch dimensions are required")
	}
	switch c.Policy {
	case "":
		c.Policy = PolicyInner
	case PolicyInner, PolicyLeft:
	default:
		return fmt.Errorf("invalid join policy %q", c.Policy)
	}
	if c.FillValue == "" {
		c.FillValue = schema.DefaultFillValue
	}
	return nil
}

type Stitcher struct {
	cfg *Config
}

func New(cfg *Config) (*Stitcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Stitcher{cfg: cfg}, nil
}

// Stitch joins the row sets in plan order. The first set is the base table,
// deduplicated by stitch key; each later set is hash-joined against the
// accumulated table, so one base row expands into one output row per matching
// incoming row. A single row set is returned unchanged.
func (s *Stitcher) Stitch(sets []RowSet) (*CombinedTable, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("no row sets to stitch")
	}

	table := &CombinedTable{Columns: columns(sets)}
	if len(sets) == 1 {
		table.Rows = sets[0].Rows
		return table, nil
	}

	rows, warnings := s.base(sets[0])
	for _, set := range sets[1:] {
		var w int
		rows, w = s.join(rows, set)
		warnings += w
	}
	table.Rows = rows
	table.Warnings = warnings
	return table, nil
}

// base indexes the first row set one row per stitch key. Duplicate keys keep
// the last row seen; key order follows first appearance.
func (s *Stitcher) base(set RowSet) ([]Row, int) {
	var (
		order    []string
		byKey    = make(map[string]Row, len(set.Rows))
		warnings int
	)
	for _, row := range set.Rows {
		k, err := s.key(set.Spec.Label(), row)
		if err != nil {
			s.cfg.Logger.Warn("Dropping row", "error", err)
			warnings++
			continue
		}
		if _, ok := byKey[k]; ok {
			s.cfg.Logger.Warn("Duplicate stitch key in base batch, keeping the last row",
				"batch", set.Spec.Label(), "key", displayKey(k))
			warnings++
		} else {
			order = append(order, k)
		}
		byKey[k] = row
	}
	rows := make([]Row, len(order))
	for i, k := range order {
		rows[i] = byKey[k]
	}
	return rows, warnings
}

// join hash-joins one incoming row set against the accumulated rows. Matched
// rows merge the incoming fields over the accumulated ones; unmatched rows
// are dropped or padded depending on the policy.
func (s *Stitcher) join(acc []Row, set RowSet) ([]Row, int) {
	var warnings int
	index := make(map[string][]Row, len(set.Rows))
	for _, row := range set.Rows {
		k, err := s.key(set.Spec.Label(), row)
		if err != nil {
			s.cfg.Logger.Warn("Dropping row", "error", err)
			warnings++
			continue
		}
		index[k] = append(index[k], row)
	}

	out := make([]Row, 0, len(acc))
	for _, row := range acc {
		k, err := s.key("combined", row)
		if err != nil {
			s.cfg.Logger.Warn("Dropping row", "error", err)
			warnings++
			continue
		}
		matches, ok := index[k]
		if !ok {
			if s.cfg.Policy == PolicyLeft {
				out = append(out, s.pad(row, set.Spec))
			}
			continue
		}
		for _, match := range matches {
			merged := maps.Clone(row)
			for name, v := range match {
				merged[name] = v
			}
			out = append(out, merged)
		}
	}
	return out, warnings
}

// key packs the row's stitch values into a join key. Empty values are valid
// key components; only an absent dimension is an error.
func (s *Stitcher) key(batch string, row Row) (string, error) {
	parts := make([]string, len(s.cfg.StitchDims))
	for i, dim := range s.cfg.StitchDims {
		v, ok := row[dim]
		if !ok {
			return "", &JoinError{Batch: batch, Dimension: dim}
		}
		parts[i] = v
	}
	return strings.Join(parts, keySep), nil
}

// pad fills the incoming batch's dimensions the row has no values for.
func (s *Stitcher) pad(row Row, spec plan.BatchSpec) Row {
	padded := maps.Clone(row)
	for _, d := range spec.Dimensions {
		if _, ok := padded[d.Name]; !ok {
			padded[d.Name] = s.cfg.FillValue
		}
	}
	return padded
}

// columns is the ordered union of the sets' dimensions, first appearance wins.
func columns(sets []RowSet) []schema.Dimension {
	var (
		out  []schema.Dimension
		seen = make(map[string]bool)
	)
	for _, set := range sets {
		for _, d := range set.Spec.Dimensions {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	return out
}

func displayKey(k string) string {
	return strings.ReplaceAll(k, keySep, "|")
}
