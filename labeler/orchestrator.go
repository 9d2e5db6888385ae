package labeler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"yashubustudio/labeler/internal/metrics"
)

// ItemAnalyzer is the per-item unit of work run by the orchestrator.
type ItemAnalyzer interface {
	Analyze(ctx context.Context, item TextItem) (AnalysisRecord, error)
}

// OrchestratorOptions controls checkpoint cadence, parallelism and resume.
type OrchestratorOptions struct {
	// Every is the number of processed items between checkpoints.
	Every   int
	Workers int
	Resume  bool
	Logger  *slog.Logger
	// Now is used for timestamps; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator drives items through the analyzer and owns the result
// accumulator. It is the only writer of checkpoints.
type Orchestrator struct {
	analyzer ItemAnalyzer
	open     StoreOpener
	opts     OrchestratorOptions
	logger   *slog.Logger
}

// NewOrchestrator validates the options and applies defaults.
func NewOrchestrator(analyzer ItemAnalyzer, open StoreOpener, opts OrchestratorOptions) (*Orchestrator, error) {
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if open == nil {
		return nil, errors.New("store opener is required")
	}
	if opts.Every <= 0 {
		opts.Every = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{analyzer: analyzer, open: open, opts: opts, logger: logger}, nil
}

type outcome struct {
	item   TextItem
	record AnalysisRecord
	err    error
}

// runState is the accumulator. Only the collector goroutine touches it.
type runState struct {
	cp        Checkpoint
	seen      map[int]struct{}
	failed    map[int]struct{}
	sinceSave int
	done      int
	total     int
	started   time.Time
}

func (s *runState) snapshot(now time.Time, complete bool) Checkpoint {
	sortRecords(s.cp.Records)
	failed := make([]int, 0, len(s.failed))
	for pos := range s.failed {
		failed = append(failed, pos)
	}
	sort.Ints(failed)
	if len(failed) == 0 {
		failed = nil
	}
	s.cp.Failed = failed
	s.cp.Complete = complete
	s.cp.UpdatedAt = now
	return s.cp.Clone()
}

// Run analyzes items and returns the records of every successfully analyzed
// item sorted by position. Failed items are logged and skipped. On
// cancellation the completed records are checkpointed and ctx.Err() is
// returned along with them.
func (o *Orchestrator) Run(ctx context.Context, items []TextItem) (_ []AnalysisRecord, err error) {
	store, err := o.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close checkpoint store: %w", cerr)
		}
	}()

	st := &runState{
		cp:      Checkpoint{RunID: uuid.NewString(), LastPosition: -1},
		failed:  make(map[int]struct{}),
		started: time.Now(),
	}
	if o.opts.Resume {
		prev, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if prev != nil {
			st.cp.RunID = prev.RunID
			st.cp.Records = prev.Records
			st.cp.Processed = prev.Processed
			st.cp.LastPosition = prev.LastPosition
			for _, pos := range prev.Failed {
				st.failed[pos] = struct{}{}
			}
			o.logger.Info("resuming from checkpoint",
				"run_id", prev.RunID,
				"records", len(prev.Records),
				"failed", len(prev.Failed))
		}
	}
	st.seen = st.cp.Positions()

	pending := make([]TextItem, 0, len(items))
	queued := make(map[int]struct{}, len(items))
	for _, it := range items {
		if _, ok := st.seen[it.Position]; ok {
			metrics.Items.WithLabelValues("skipped").Inc()
			continue
		}
		if _, ok := queued[it.Position]; ok {
			continue
		}
		queued[it.Position] = struct{}{}
		// A previously failed item gets another attempt.
		delete(st.failed, it.Position)
		pending = append(pending, it)
	}
	st.total = len(pending)
	o.logger.Info("starting run",
		"run_id", st.cp.RunID,
		"items", len(pending),
		"already_recorded", len(st.seen),
		"workers", o.opts.Workers)

	runErr := o.process(ctx, store, st, pending)
	if runErr != nil {
		return nil, runErr
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if st.sinceSave > 0 {
			// The caller's context is gone; the flush must still complete.
			if err := o.saveCheckpoint(context.WithoutCancel(ctx), store, st); err != nil {
				return nil, err
			}
		}
		o.logger.Warn("run interrupted",
			"recorded", len(st.cp.Records),
			"remaining", st.total-st.done)
		return st.snapshot(o.opts.Now(), false).Records, ctxErr
	}

	if st.sinceSave > 0 {
		if err := o.saveCheckpoint(ctx, store, st); err != nil {
			return nil, err
		}
	}
	final := st.snapshot(o.opts.Now(), true)
	if err := store.SaveFinal(ctx, final); err != nil {
		return nil, fmt.Errorf("save final results: %w", err)
	}
	metrics.CheckpointWrites.WithLabelValues(snapshotFinal).Inc()
	metrics.CheckpointRecords.Set(float64(len(final.Records)))
	o.logger.Info("run complete",
		"records", len(final.Records),
		"failed", len(final.Failed),
		"elapsed", time.Since(st.started).Round(time.Millisecond))
	return final.Records, nil
}

// process fans items out to the worker pool and collects outcomes on the
// calling goroutine. It returns only fatal errors.
func (o *Orchestrator) process(ctx context.Context, store Store, st *runState, pending []TextItem) error {
	if len(pending) == 0 {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	jobs := make(chan TextItem)
	outcomes := make(chan outcome)

	g.Go(func() error {
		defer close(jobs)
		for _, it := range pending {
			select {
			case jobs <- it:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for it := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				rec, err := o.analyzer.Analyze(gctx, it)
				outcomes <- outcome{item: it, record: rec, err: err}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var fatal error
	for out := range outcomes {
		if fatal != nil {
			continue
		}
		// Items cut short by cancellation are neither recorded nor failed.
		if out.err != nil && runCtx.Err() != nil && isContextErr(out.err) {
			continue
		}
		o.accept(st, out)
		if runCtx.Err() == nil && st.sinceSave >= o.opts.Every {
			if err := o.saveCheckpoint(ctx, store, st); err != nil {
				fatal = err
				cancel()
			}
		}
	}
	_ = g.Wait()
	return fatal
}

// accept folds one outcome into the accumulator.
func (o *Orchestrator) accept(st *runState, out outcome) {
	st.done++
	st.sinceSave++
	st.cp.Processed++
	if out.item.Position > st.cp.LastPosition {
		st.cp.LastPosition = out.item.Position
	}
	elapsed := time.Since(st.started)
	eta := time.Duration(0)
	if st.done > 0 {
		eta = elapsed / time.Duration(st.done) * time.Duration(st.total-st.done)
	}
	if out.err != nil {
		st.failed[out.item.Position] = struct{}{}
		metrics.Items.WithLabelValues("failed").Inc()
		o.logger.Warn("item skipped",
			"position", out.item.Position,
			"progress", fmt.Sprintf("%d/%d", st.done, st.total),
			"error", out.err)
		return
	}
	if _, dup := st.seen[out.record.Position]; dup {
		return
	}
	st.seen[out.record.Position] = struct{}{}
	st.cp.Records = append(st.cp.Records, out.record)
	metrics.Items.WithLabelValues("recorded").Inc()
	o.logger.Info("item labeled",
		"position", out.item.Position,
		"progress", fmt.Sprintf("%d/%d", st.done, st.total),
		"elapsed", elapsed.Round(time.Second),
		"eta", eta.Round(time.Second))
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, store Store, st *runState) error {
	cp := st.snapshot(o.opts.Now(), false)
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	st.sinceSave = 0
	metrics.CheckpointWrites.WithLabelValues(snapshotCheckpoint).Inc()
	metrics.CheckpointRecords.Set(float64(len(cp.Records)))
	o.logger.Debug("checkpoint saved", "records", len(cp.Records), "processed", cp.Processed)
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
