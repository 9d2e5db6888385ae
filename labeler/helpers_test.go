package labeler

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeScorer answers from a function and records every call.
type fakeScorer struct {
	mu    sync.Mutex
	score func(premise, hypothesis string) (float64, error)
	calls []string
}

func (f *fakeScorer) Score(_ context.Context, premise, hypothesis string) (float64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, premise+"|"+hypothesis)
	f.mu.Unlock()
	return f.score(premise, hypothesis)
}

func (f *fakeScorer) Close() error    { return nil }
func (f *fakeScorer) ModelID() string { return "fake" }

func (f *fakeScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeScorer) callsFor(premise string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > len(premise) && c[:len(premise)+1] == premise+"|" {
			n++
		}
	}
	return n
}

// fakeBatchScorer adds ScoreBatch on top of fakeScorer.
type fakeBatchScorer struct {
	fakeScorer
	batchCalls int
	batch      func(premise string, hypotheses []string) ([]float64, error)
}

func (f *fakeBatchScorer) ScoreBatch(_ context.Context, premise string, hypotheses []string) ([]float64, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	return f.batch(premise, hypotheses)
}

// scoreTable scores hypotheses from a fixed table; unknown ones are permanent failures.
func scoreTable(table map[string]float64) func(string, string) (float64, error) {
	return func(_, hypothesis string) (float64, error) {
		if v, ok := table[hypothesis]; ok {
			return v, nil
		}
		return 0, backendErr(FailurePermanent, 400, errors.New("unknown hypothesis"))
	}
}

// newTestPolicy returns a policy whose sleeps are recorded instead of taken.
func newTestPolicy(cfg RetryConfig) (*RetryPolicy, *sleepRecorder) {
	p := NewRetryPolicy(cfg, nil, nil)
	rec := &sleepRecorder{}
	p.sleep = rec.sleep
	return p, rec
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

// memStore is an in-memory Store that keeps every snapshot it was given.
type memStore struct {
	mu          sync.Mutex
	initial     *Checkpoint
	checkpoints []Checkpoint
	finals      []Checkpoint
	failSave    error
	closed      bool
}

func (m *memStore) opener() StoreOpener {
	return func(context.Context) (Store, error) {
		m.mu.Lock()
		m.closed = false
		m.mu.Unlock()
		return m, nil
	}
}

func (m *memStore) Load(context.Context) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.checkpoints); n > 0 {
		cp := m.checkpoints[n-1].Clone()
		return &cp, nil
	}
	if n := len(m.finals); n > 0 {
		cp := m.finals[n-1].Clone()
		return &cp, nil
	}
	if m.initial != nil {
		cp := m.initial.Clone()
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.checkpoints = append(m.checkpoints, cp.Clone())
	return nil
}

func (m *memStore) SaveFinal(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.finals = append(m.finals, cp.Clone())
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func makeItems(texts ...string) []TextItem {
	items := make([]TextItem, len(texts))
	for i, t := range texts {
		items[i] = TextItem{Position: i, Text: t}
	}
	return items
}
