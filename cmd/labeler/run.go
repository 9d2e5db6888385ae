package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"yashubustudio/labeler/labeler"
)

type runOptions struct {
	input       string
	textColumn  string
	limit       int
	backend     string
	workers     int
	resume      bool
	checkpoint  string
	output      string
	outputCSV   string
	categories  []string
	metricsAddr string
	top         int
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Label every headline in an input file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabeler(cmd.Context(), runOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.input, "input", "i", "", "CSV/TSV/text file with one headline per row")
	f.StringVar(&runOpts.textColumn, "text-column", "", "column name or #index holding the text (default: auto-detect)")
	f.IntVar(&runOpts.limit, "limit", 0, "process at most this many items")
	f.StringVar(&runOpts.backend, "backend", "", "classifier backend: onnx, hf or openai")
	f.IntVar(&runOpts.workers, "workers", 0, "number of items analyzed concurrently")
	f.BoolVar(&runOpts.resume, "resume", false, "skip items already recorded in the checkpoint")
	f.StringVar(&runOpts.checkpoint, "checkpoint", "", "checkpoint path (may contain {timestamp})")
	f.StringVarP(&runOpts.output, "output", "o", "", "final results path (may contain {timestamp})")
	f.StringVar(&runOpts.outputCSV, "csv", "", "also write a flat CSV summary to this path")
	f.StringSliceVar(&runOpts.categories, "categories", nil, "only evaluate these categories or groups")
	f.StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.IntVar(&runOpts.top, "top", 3, "number of most frequent labels printed per category")
	_ = runCmd.MarkFlagRequired("input")
}

func runLabeler(parent context.Context, opts runOptions, out io.Writer) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyRunOverrides(&cfg, opts, logger)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	categories := labeler.FilterCategories(cfg.Categories, opts.categories)
	if len(categories) == 0 {
		return fmt.Errorf("no categories match %s", strings.Join(opts.categories, ", "))
	}

	items, err := labeler.LoadItems(opts.input, cfg.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(items) == 0 {
		return errors.New("input file does not contain any texts")
	}

	if opts.metricsAddr != "" {
		srv := startMetricsServer(opts.metricsAddr, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	scorer, err := labeler.NewScorer(cfg.Backend, logger)
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}
	defer scorer.Close()

	throttle := labeler.NewThrottle(cfg.Retry.MinInterval.Std())
	policy := labeler.NewRetryPolicy(cfg.Retry, throttle, logger)
	retryCfg := policy.Config()
	logger.Debug("retry policy",
		"max_retries", retryCfg.MaxRetries,
		"rate_limit_delay", retryCfg.RateLimitDelay.Std(),
		"warmup_delay", retryCfg.WarmupDelay.Std(),
		"transient_retries", retryCfg.TransientRetries,
		"min_interval", retryCfg.MinInterval.Std())
	evaluator, err := labeler.NewEvaluator(scorer, policy, cfg.Backend.Batch, logger)
	if err != nil {
		return err
	}
	analyzer, err := labeler.NewAnalyzer(evaluator, categories, logger)
	if err != nil {
		return err
	}
	orch, err := labeler.NewOrchestrator(analyzer, labeler.OpenStore(cfg.Checkpoint, time.Now()), labeler.OrchestratorOptions{
		Every:   cfg.Checkpoint.Every,
		Workers: cfg.Workers,
		Resume:  cfg.Checkpoint.Resume,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("labeling headlines",
		"items", len(items),
		"categories", len(categories),
		"backend", cfg.Backend.Kind,
		"model", scorer.ModelID())
	records, runErr := orch.Run(ctx, items)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run: %w", runErr)
	}

	if opts.outputCSV != "" && runErr == nil {
		if err := writeSummaryFile(labeler.ExpandPath(opts.outputCSV, time.Now()), categories, records); err != nil {
			return err
		}
		logger.Info("summary written", "path", opts.outputCSV)
	}
	printTally(out, records, categories, opts.top)
	if runErr != nil {
		logger.Warn("interrupted; rerun with --resume to continue", "recorded", len(records))
		return runErr
	}
	return nil
}

// applyRunOverrides folds command-line flags into cfg. A checkpoint path
// selects the driver by its extension.
func applyRunOverrides(cfg *labeler.Config, opts runOptions, logger *slog.Logger) {
	if opts.backend != "" {
		cfg.Backend.Kind = opts.backend
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.resume {
		cfg.Checkpoint.Resume = true
	}
	if opts.checkpoint != "" {
		cfg.Checkpoint.Path = opts.checkpoint
		switch {
		case isSQLitePath(opts.checkpoint):
			cfg.Checkpoint.Driver = labeler.DriverSQLite
		case strings.EqualFold(filepath.Ext(opts.checkpoint), ".json"):
			cfg.Checkpoint.Driver = labeler.DriverJSON
		}
	}
	if opts.output != "" {
		cfg.Checkpoint.FinalPath = opts.output
		if cfg.Checkpoint.Driver == labeler.DriverSQLite {
			logger.Warn("--output is ignored with the sqlite checkpoint driver; the final snapshot is stored in the database",
				"output", opts.output,
				"database", cfg.Checkpoint.Path)
		}
	}
	if opts.textColumn != "" {
		cfg.Input.TextColumn = opts.textColumn
	}
	if opts.limit > 0 {
		cfg.Input.Limit = opts.limit
	}
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func writeSummaryFile(path string, categories []labeler.LabelCategory, records []labeler.AnalysisRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create summary file: %w", err)
	}
	defer f.Close()
	if err := labeler.WriteSummaryCSV(f, categories, records); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return f.Close()
}

func printTally(out io.Writer, records []labeler.AnalysisRecord, categories []labeler.LabelCategory, n int) {
	if len(records) == 0 {
		return
	}
	tally := labeler.Tally(records, categories, n)
	fmt.Fprintf(out, "Labeled %d headlines\n", len(records))
	for _, cat := range categories {
		counts := tally[cat.Name]
		parts := make([]string, len(counts))
		for i, c := range counts {
			parts[i] = fmt.Sprintf("%s (%d)", c.Label, c.Count)
		}
		fmt.Fprintf(out, "Top %d %s: %s\n", n, cat.Key(), strings.Join(parts, ", "))
	}
}
