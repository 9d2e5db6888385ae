package labeler

import (
	"context"
	"fmt"
	"log/slog"
)

// Scorer exposes the minimal surface required by the evaluator: how strongly
// premise entails hypothesis. Failures should be reported as *BackendError so
// the retry policy can classify them.
type Scorer interface {
	Score(ctx context.Context, premise, hypothesis string) (float64, error)
	Close() error
	ModelID() string
}

// BatchScorer is implemented by backends that score every hypothesis of a
// category in one request. Scores are aligned with hypotheses.
type BatchScorer interface {
	ScoreBatch(ctx context.Context, premise string, hypotheses []string) ([]float64, error)
}

// NewScorer constructs the backend selected by cfg.Kind. The caller owns the
// returned scorer and must Close it.
func NewScorer(cfg BackendConfig, logger *slog.Logger) (Scorer, error) {
	switch cfg.Kind {
	case BackendONNX, "":
		ort, err := NewOrtScorer(cfg.ORT)
		if err != nil {
			return nil, err
		}
		return NewCachedScorer(ort, cfg.ORT.CacheDir, logger), nil
	case BackendHF:
		return NewHFScorer(cfg.HF)
	case BackendOpenAI:
		s, err := NewOpenAIScorer(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
