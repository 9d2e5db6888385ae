package labeler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"yashubustudio/labeler/internal/metrics"
)

var errNoLabels = errors.New("category has no labels")

// Evaluator ranks the labels of one category for one text.
type Evaluator struct {
	scorer Scorer
	policy *RetryPolicy
	batch  bool
	logger *slog.Logger
}

// NewEvaluator wires a scorer behind the retry policy. When batch is set and
// the scorer implements BatchScorer, a category is scored in one request.
func NewEvaluator(scorer Scorer, policy *RetryPolicy, batch bool, logger *slog.Logger) (*Evaluator, error) {
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if policy == nil {
		return nil, errors.New("retry policy is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evaluator{scorer: scorer, policy: policy, batch: batch, logger: logger}, nil
}

// Evaluate scores every label of category against text and returns them
// ranked. Labels whose calls failed permanently are left out; if none could
// be scored a *CategoryError is returned.
func (e *Evaluator) Evaluate(ctx context.Context, text string, category LabelCategory) (CategoryResult, error) {
	if len(category.Labels) == 0 {
		return CategoryResult{}, &CategoryError{Category: category.Name, Err: errNoLabels}
	}
	var (
		scored []ScoredLabel
		err    error
	)
	if bs, ok := e.scorer.(BatchScorer); ok && e.batch {
		scored, err = e.scoreBatch(ctx, bs, text, category)
	} else {
		scored, err = e.scoreEach(ctx, text, category)
	}
	if err != nil {
		return CategoryResult{}, err
	}
	return rank(scored), nil
}

func (e *Evaluator) scoreEach(ctx context.Context, text string, category LabelCategory) ([]ScoredLabel, error) {
	scored := make([]ScoredLabel, 0, len(category.Labels))
	var lastErr error
	for _, label := range category.Labels {
		hypothesis := category.Hypothesis(label)
		var score float64
		err := e.policy.Do(ctx, func(ctx context.Context) error {
			s, err := e.scorer.Score(ctx, text, hypothesis)
			if err != nil {
				return err
			}
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return backendErr(FailureMalformed, 0, fmt.Errorf("non-finite score %v", s))
			}
			score = s
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			metrics.DroppedLabels.WithLabelValues(category.Name).Inc()
			e.logger.Warn("label dropped from ranking",
				"category", category.Name,
				"label", label,
				"error", err)
			continue
		}
		scored = append(scored, ScoredLabel{Label: label, Score: score})
	}
	if len(scored) == 0 {
		return nil, &CategoryError{Category: category.Name, Err: lastErr}
	}
	return scored, nil
}

func (e *Evaluator) scoreBatch(ctx context.Context, bs BatchScorer, text string, category LabelCategory) ([]ScoredLabel, error) {
	hypotheses := make([]string, len(category.Labels))
	for i, label := range category.Labels {
		hypotheses[i] = category.Hypothesis(label)
	}
	var scores []float64
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		s, err := bs.ScoreBatch(ctx, text, hypotheses)
		if err != nil {
			return err
		}
		if len(s) != len(hypotheses) {
			return backendErr(FailureMalformed, 0, fmt.Errorf("got %d scores for %d hypotheses", len(s), len(hypotheses)))
		}
		scores = s
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &CategoryError{Category: category.Name, Err: err}
	}
	scored := make([]ScoredLabel, 0, len(scores))
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			e.logger.Warn("label dropped from ranking",
				"category", category.Name,
				"label", category.Labels[i],
				"error", "non-finite score")
			continue
		}
		scored = append(scored, ScoredLabel{Label: category.Labels[i], Score: s})
	}
	if len(scored) == 0 {
		return nil, &CategoryError{Category: category.Name, Err: ErrMalformedResponse}
	}
	return scored, nil
}

// rank sorts by descending score; equal scores keep vocabulary order.
func rank(scored []ScoredLabel) CategoryResult {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return CategoryResult{
		TopMatch:  scored[0].Label,
		Score:     scored[0].Score,
		AllScores: scored,
	}
}
