// Command gastitch downloads dimension-batched reports from the Google
// Analytics Reporting API and stitches them into one combined table.
//
// The reporting API caps each request at seven dimensions, so the configured
// dimension groups are downloaded as separate batches and joined back
// together on the shared stitch dimensions. Output goes to CSV on stdout or a
// file, or into a ClickHouse or PostgreSQL table.
//
// Dates are YYYY-MM-DD or relative (today, yesterday, NdaysAgo). Filters
// follow the Reporting API v4 format, with multiple expressions separated by
// AND or OR:
//
//	gastitch -f "ga:browser EXACT Firefox" 7daysAgo yesterday
//	gastitch -f "ga:dimension1 BEGINS_WITH 0123 AND ga:dimension2 EXACT abcdef" 2026-08-01
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/tidemarkhq/gastitch/pkg/daterange"
	"github.com/tidemarkhq/gastitch/pkg/emit"
	"github.com/tidemarkhq/gastitch/pkg/ga"
	"github.com/tidemarkhq/gastitch/pkg/logger"
	"github.com/tidemarkhq/gastitch/pkg/metrics"
	"github.com/tidemarkhq/gastitch/pkg/pipeline"
	"github.com/tidemarkhq/gastitch/pkg/plan"
	"github.com/tidemarkhq/gastitch/pkg/schema"
	"github.com/tidemarkhq/gastitch/pkg/server"
	"github.com/tidemarkhq/gastitch/pkg/sink"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigFile = "download.cfg"

// Exit codes: configuration and usage errors are distinct from download
// failures so callers can tell a bad schema from a flaky API.
const (
	exitConfig = 2
	exitFetch  = 3
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr *schema.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	var fetchErr *pipeline.FetchError
	if errors.As(err, &fetchErr) {
		return exitFetch
	}
	return 1
}

func run() error {
	configFlag := flag.StringP("config", "c", defaultConfigFile, "configuration file")
	delimiterFlag := flag.StringP("delimiter", "d", "", "delimit the output with this character")
	filterFlag := flag.StringP("filter", "f", "", "filter the results")
	outputFlag := flag.StringP("output-file", "o", "", "output file (instead of standard output)")
	resultsFlag := flag.BoolP("results", "r", false, "get the results only")
	skipHeaderFlag := flag.BoolP("skip-header", "s", false, "skip the header row")
	usersFlag := flag.BoolP("users", "u", false, "get the user information only")
	validateFlag := flag.BoolP("validate", "v", false, "validate only, providing counts")
	debugFlag := flag.BoolP("debug-mode", "x", false, "debug mode that provides queries, counts and other information")
	dimNamesFlag := flag.Bool("dimension-names", false, "add the dimension names in the header with the translations")
	skipTranslationFlag := flag.Bool("skip-translation", false, "skip the translation of dimension names in the header")
	joinFlag := flag.String("join", "inner", "join policy for stitch keys missing from a later batch (inner or left)")
	bestEffortFlag := flag.Bool("best-effort", false, "skip failed batches instead of aborting the run")
	maxConcurrencyFlag := flag.Int("max-concurrency", pipeline.DefaultMaxConcurrency, "maximum concurrent batch downloads")
	sinkFlag := flag.String("to", "csv", "output destination: csv, clickhouse, or postgres")
	statusListenFlag := flag.String("status-listen", "", "serve /status, /healthz, and /metrics on this address while running (or set GASTITCH_STATUS_LISTEN env var)")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("gastitch %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logger.New(os.Stderr, *debugFlag)

	// Load .env if present; real environment variables win.
	_ = godotenv.Load()

	args := flag.Args()
	if len(args) < 1 || len(args) > 2 {
		return schema.ConfigErrorf("expected START-DATE [END-DATE] arguments, got %d", len(args))
	}
	end := ""
	if len(args) == 2 {
		end = args[1]
	}

	clock := clockwork.NewRealClock()
	dates, err := daterange.Resolve(clock, args[0], end)
	if err != nil {
		return err
	}

	delimiter := ','
	if *delimiterFlag != "" {
		runes := []rune(*delimiterFlag)
		if len(runes) != 1 {
			return schema.ConfigErrorf("delimiter must be a single character, got %q", *delimiterFlag)
		}
		delimiter = runes[0]
	}

	policy, err := stitch.ParsePolicy(*joinFlag)
	if err != nil {
		return err
	}

	// Check the filter before any network activity.
	if _, err := ga.ParseFilter(*filterFlag); err != nil {
		return err
	}

	cfg, err := schema.Load(*configFlag)
	if err != nil {
		return err
	}

	// Override configuration with environment variables if set
	if v := os.Getenv("GASTITCH_KEY_FILE"); v != "" {
		cfg.Common.KeyFile = v
	}
	if v := os.Getenv("GASTITCH_VIEW_ID"); v != "" {
		cfg.Common.ViewID = v
	}
	if v := os.Getenv("GASTITCH_ENDPOINT"); v != "" {
		cfg.Common.Endpoint = v
	}
	if *statusListenFlag == "" {
		*statusListenFlag = os.Getenv("GASTITCH_STATUS_LISTEN")
	}

	p, err := plan.Build(cfg.Schema)
	if err != nil {
		return err
	}

	client, err := ga.NewClient(&ga.Config{
		Logger:   log,
		Endpoint: cfg.Common.Endpoint,
		KeyFile:  cfg.Common.KeyFile,
		Scopes:   cfg.Common.Scopes,
		ViewID:   cfg.Common.ViewID,
		PageSize: cfg.Common.PageSize,
	})
	if err != nil {
		return err
	}

	stitcher, err := stitch.New(&stitch.Config{
		Logger:     log,
		StitchDims: p.StitchNames,
		Policy:     policy,
		FillValue:  cfg.Schema.FillValue,
	})
	if err != nil {
		return err
	}

	mode := pipeline.ModeFull
	switch {
	case *usersFlag:
		mode = pipeline.ModeUsersOnly
	case *resultsFlag:
		mode = pipeline.ModeResultsOnly
	case *validateFlag:
		mode = pipeline.ModeValidate
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := uuid.New()

	var emitter emit.Emitter
	switch *sinkFlag {
	case "csv":
		w := io.Writer(os.Stdout)
		if *outputFlag != "" {
			f, err := os.Create(*outputFlag)
			if err != nil {
				return schema.ConfigErrorf("invalid output file: %s", *outputFlag)
			}
			defer f.Close()
			w = f
		}
		emitter, err = emit.NewCSV(&emit.CSVConfig{
			Writer:          w,
			Delimiter:       delimiter,
			SkipHeader:      *skipHeaderFlag,
			SkipTranslation: *skipTranslationFlag,
			DimensionNames:  *dimNamesFlag,
		})
		if err != nil {
			return err
		}
	case "clickhouse":
		if cfg.ClickHouse == nil {
			return schema.ConfigErrorf("missing configuration section: clickhouse")
		}
		ch, err := sink.NewClickHouse(ctx, &sink.ClickHouseConfig{
			Logger:   log,
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Table:    cfg.ClickHouse.Table,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Secure:   cfg.ClickHouse.Secure,
			RunID:    runID,
		})
		if err != nil {
			return err
		}
		defer ch.Close()
		emitter = ch
	case "postgres":
		if cfg.Postgres == nil {
			return schema.ConfigErrorf("missing configuration section: postgres")
		}
		pg, err := sink.NewPostgres(ctx, &sink.PostgresConfig{
			Logger: log,
			DSN:    cfg.Postgres.DSN,
			Table:  cfg.Postgres.Table,
			RunID:  runID,
		})
		if err != nil {
			return err
		}
		defer pg.Close()
		emitter = pg
	default:
		return schema.ConfigErrorf("invalid output destination %q, expected csv, clickhouse, or postgres", *sinkFlag)
	}

	pl, err := pipeline.New(&pipeline.Config{
		Logger:         log,
		Clock:          clock,
		Fetcher:        client,
		Stitcher:       stitcher,
		Emitter:        emitter,
		Plan:           p,
		Range:          dates,
		Filter:         *filterFlag,
		Mode:           mode,
		BestEffort:     *bestEffortFlag,
		MaxConcurrency: *maxConcurrencyFlag,
		RunID:          runID,
	})
	if err != nil {
		return err
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if *statusListenFlag != "" {
		srv, err := server.New(server.Config{
			Logger:      log,
			ListenAddr:  *statusListenFlag,
			VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
			Pipeline:    pl,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("Status server failed", "error", err)
			}
		}()
	}

	res, err := pl.Run(ctx)
	if err != nil {
		return err
	}

	switch mode {
	case pipeline.ModeValidate:
		fmt.Printf("Total number of users: %d\n", res.UserRows)
		fmt.Printf("Total number of results: %d\n", res.ResultRows)
	default:
		if len(res.Skipped) > 0 {
			log.Warn("Output is incomplete, some batches were skipped", "skipped", res.Skipped)
		}
		if *outputFlag != "" && *sinkFlag == "csv" {
			fmt.Printf("Download complete, %d rows, output file: %s\n", res.Rows, *outputFlag)
		}
	}
	return nil
}
