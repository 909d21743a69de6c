// Package pipeline orchestrates one download run: fetch the planned batches
// with bounded parallelism, stitch the row sets into a combined table, and
// hand it to the emitter.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/tidemarkhq/gastitch/pkg/daterange"
	"github.com/tidemarkhq/gastitch/pkg/emit"
	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/plan"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

// DefaultMaxConcurrency bounds parallel batch downloads.
const DefaultMaxConcurrency = 4

// Mode selects which part of the plan a run executes.
type Mode string

const (
	// ModeFull fetches every batch, stitches, and emits the combined table.
	ModeFull Mode = "full"

	// ModeUsersOnly fetches and emits the user batch alone.
	ModeUsersOnly Mode = "users-only"

	// ModeResultsOnly fetches and emits the results batch alone.
	ModeResultsOnly Mode = "results-only"

	// ModeValidate fetches the user and results batches and reports row
	// counts without emitting anything.
	ModeValidate Mode = "validate"
)

// Run states reported by Status.
const (
	StatePending   = "pending"
	StateFetching  = "fetching"
	StateStitching = "stitching"
	StateEmitting  = "emitting"
	StateDone      = "done"
	StateFailed    = "failed"
	StateSkipped   = "skipped"
)

// Fetcher executes one planned batch against the reporting API. It owns
// authentication, pagination, retries, and rate limiting.
type Fetcher interface {
	Fetch(ctx context.Context, spec plan.BatchSpec, r daterange.Range, filter string) ([]stitch.Row, error)
}

// FetchError tags a failed batch download with the batch that failed.
type FetchError struct {
	Batch string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s batch: %v", e.Batch, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Fetcher  Fetcher
	Stitcher *stitch.Stitcher
	Emitter  emit.Emitter

	Plan   *plan.Plan
	Range  daterange.Range
	Filter string

	Mode Mode

	// BestEffort skips batches whose download failed instead of aborting
	// the run. The combined output is then incomplete.
	BestEffort bool

	MaxConcurrency int

	// RunID identifies the run in logs, status, and sink rows; zero means
	// a fresh ID.
	RunID uuid.UUID
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Plan == nil {
		return fmt.Errorf("plan is required")
	}
	switch c.Mode {
	case "":
		c.Mode = ModeFull
	case ModeFull, ModeUsersOnly, ModeResultsOnly, ModeValidate:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Mode != ModeValidate {
		if c.Stitcher == nil {
			return fmt.Errorf("stitcher is required")
		}
		if c.Emitter == nil {
			return fmt.Errorf("emitter is required")
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RunID == uuid.Nil {
		c.RunID = uuid.New()
	}
	return nil
}

// Result summarizes a completed run.
type Result struct {
	RunID    string
	Rows     int
	Warnings int

	// Skipped lists batches dropped by best-effort handling.
	Skipped []string

	// UserRows and ResultRows are only set in validate mode.
	UserRows   int
	ResultRows int
}

// Status is a point-in-time snapshot of a run for the status server.
type Status struct {
	RunID     string            `json:"run_id"`
	State     string            `json:"state"`
	Range     string            `json:"range"`
	StartedAt time.Time         `json:"started_at"`
	Batches   map[string]string `json:"batches"`
	Rows      int               `json:"rows"`
}

type Pipeline struct {
	log   *slog.Logger
	cfg   *Config
	runID uuid.UUID

	mu     sync.Mutex
	status Status
}

func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{
		log:   cfg.Logger,
		cfg:   cfg,
		runID: cfg.RunID,
	}
	p.status = Status{
		RunID:   p.runID.String(),
		State:   StatePending,
		Range:   cfg.Range.String(),
		Batches: make(map[string]string),
	}
	for _, spec := range cfg.Plan.Specs() {
		p.status.Batches[spec.Label()] = StatePending
	}
	return p, nil
}

// RunID identifies this run in logs and sink rows.
func (p *Pipeline) RunID() uuid.UUID { return p.runID }

// Status returns a snapshot of the run.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.Batches = make(map[string]string, len(p.status.Batches))
	for k, v := range p.status.Batches {
		s.Batches[k] = v
	}
	return s
}

// Run executes the configured mode and returns its summary.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	p.status.StartedAt = p.cfg.Clock.Now()
	p.mu.Unlock()
	p.setState(StateFetching)

	p.log.Info("Starting run",
		"run_id", p.runID,
		"mode", p.cfg.Mode,
		"range", p.cfg.Range,
		"batches", len(p.cfg.Plan.Specs()),
		"max_concurrency", p.cfg.MaxConcurrency)

	res, err := p.run(ctx)
	if err != nil {
		p.setState(StateFailed)
		return nil, err
	}
	p.setState(StateDone)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	switch p.cfg.Mode {
	case ModeValidate:
		return p.runValidate(ctx)
	case ModeUsersOnly:
		return p.runSingle(ctx, p.cfg.Plan.Users)
	case ModeResultsOnly:
		return p.runSingle(ctx, p.cfg.Plan.Results)
	default:
		return p.runFull(ctx)
	}
}

func (p *Pipeline) runFull(ctx context.Context) (*Result, error) {
	sets, skipped, err := p.fetchAll(ctx, p.cfg.Plan.Specs(), p.cfg.BestEffort)
	if err != nil {
		return nil, err
	}

	table, err := p.stitchSets(sets)
	if err != nil {
		return nil, err
	}
	if err := p.emit(ctx, table); err != nil {
		return nil, err
	}
	return &Result{
		RunID:    p.runID.String(),
		Rows:     len(table.Rows),
		Warnings: table.Warnings,
		Skipped:  skipped,
	}, nil
}

func (p *Pipeline) runSingle(ctx context.Context, spec plan.BatchSpec) (*Result, error) {
	sets, _, err := p.fetchAll(ctx, []plan.BatchSpec{spec}, false)
	if err != nil {
		return nil, err
	}
	table, err := p.stitchSets(sets)
	if err != nil {
		return nil, err
	}
	if err := p.emit(ctx, table); err != nil {
		return nil, err
	}
	return &Result{RunID: p.runID.String(), Rows: len(table.Rows)}, nil
}

func (p *Pipeline) runValidate(ctx context.Context) (*Result, error) {
	sets, _, err := p.fetchAll(ctx, []plan.BatchSpec{p.cfg.Plan.Users, p.cfg.Plan.Results}, false)
	if err != nil {
		return nil, err
	}
	return &Result{
		RunID:      p.runID.String(),
		UserRows:   len(sets[0].Rows),
		ResultRows: len(sets[1].Rows),
	}, nil
}

// fetchAll downloads the given batches with bounded parallelism, returning
// the row sets in plan order. Without best effort the first failure cancels
// the remaining downloads and aborts the run.
func (p *Pipeline) fetchAll(ctx context.Context, specs []plan.BatchSpec, bestEffort bool) ([]stitch.RowSet, []string, error) {
	sets := make([]stitch.RowSet, len(specs))
	errs := make([]error, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, spec := range specs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			p.setBatchState(spec.Label(), StateFetching)

			rows, err := p.cfg.Fetcher.Fetch(gctx, spec, p.cfg.Range, p.cfg.Filter)
			if err != nil {
				ferr := &FetchError{Batch: spec.Label(), Err: err}
				if bestEffort {
					p.log.Warn("Skipping failed batch, output will be incomplete", "batch", spec.Label(), "error", err)
					p.setBatchState(spec.Label(), StateSkipped)
					errs[i] = ferr
					return nil
				}
				p.setBatchState(spec.Label(), StateFailed)
				return ferr
			}

			sets[i] = stitch.RowSet{Spec: spec, Rows: rows}
			p.setBatchState(spec.Label(), StateDone)
			p.log.Info("Fetched batch", "batch", spec.Label(), "rows", len(rows))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		out     []stitch.RowSet
		skipped []string
	)
	for i := range specs {
		if errs[i] != nil {
			skipped = append(skipped, specs[i].Label())
			continue
		}
		out = append(out, sets[i])
	}
	if len(out) == 0 {
		for _, err := range errs {
			if err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, fmt.Errorf("no batches to fetch")
	}
	return out, skipped, nil
}

func (p *Pipeline) stitchSets(sets []stitch.RowSet) (*stitch.CombinedTable, error) {
	p.setState(StateStitching)
	start := p.cfg.Clock.Now()

	table, err := p.cfg.Stitcher.Stitch(sets)
	if err != nil {
		return nil, fmt.Errorf("failed to stitch row sets: %w", err)
	}

	metrics.StitchDuration.Observe(p.cfg.Clock.Now().Sub(start).Seconds())
	metrics.JoinWarningsTotal.Add(float64(table.Warnings))

	p.mu.Lock()
	p.status.Rows = len(table.Rows)
	p.mu.Unlock()

	p.log.Info("Stitched row sets", "sets", len(sets), "rows", len(table.Rows), "columns", len(table.Columns), "warnings", table.Warnings)
	return table, nil
}

func (p *Pipeline) emit(ctx context.Context, table *stitch.CombinedTable) error {
	p.setState(StateEmitting)
	if err := p.cfg.Emitter.Emit(ctx, table); err != nil {
		return fmt.Errorf("failed to emit combined table: %w", err)
	}
	return nil
}

func (p *Pipeline) setState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.State = state
}

func (p *Pipeline) setBatchState(label, state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Batches[label] = state
}
