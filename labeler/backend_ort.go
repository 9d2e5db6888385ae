package labeler

import (
	"context"
	"errors"
	"fmt"
	"math"

	"yashubustudio/labeler/nli"
)

// Score modes for the local model.
const (
	ScoreLogit       = "logit"
	ScoreProbability = "probability"
)

// OrtScorer scores pairs with a local NLI model.
type OrtScorer struct {
	model         *nli.Model
	cfg           OrtConfig
	entailment    int
	contradiction int
}

// NewOrtScorer loads the model described by cfg.
func NewOrtScorer(cfg OrtConfig) (*OrtScorer, error) {
	if cfg.ModelID == "" && cfg.ModelPath != "" {
		cfg.ModelID = cfg.ModelPath
	}
	if len(cfg.LabelOrder) == 0 {
		cfg.LabelOrder = []string{"contradiction", "neutral", "entailment"}
	}
	switch cfg.ScoreMode {
	case "", ScoreLogit, ScoreProbability:
	default:
		return nil, fmt.Errorf("unknown score mode %q", cfg.ScoreMode)
	}
	model := &nli.Model{}
	if err := model.Init(nli.Config{
		OrtDLL:        cfg.OrtDLL,
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		MaxSeqLen:     cfg.MaxSeqLen,
		LabelOrder:    cfg.LabelOrder,
	}); err != nil {
		return nil, err
	}
	s := &OrtScorer{
		model:         model,
		cfg:           cfg,
		entailment:    model.LabelIndex("entailment"),
		contradiction: model.LabelIndex("contradiction"),
	}
	if s.entailment < 0 {
		model.Close()
		return nil, errors.New("label order has no entailment class")
	}
	return s, nil
}

// Close releases ORT resources.
func (s *OrtScorer) Close() error {
	if s == nil || s.model == nil {
		return nil
	}
	s.model.Close()
	s.model = nil
	return nil
}

// ModelID returns the identifier used for cache keys.
func (s *OrtScorer) ModelID() string {
	return s.cfg.ModelID + "#" + s.cfg.ScoreMode
}

// Score returns the entailment logit, or in probability mode the softmax of
// entailment against contradiction.
func (s *OrtScorer) Score(ctx context.Context, premise, hypothesis string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.model == nil {
		return 0, backendErr(FailurePermanent, 0, errors.New("scorer is not initialized"))
	}
	logits, err := s.model.Logits(premise, hypothesis)
	if err != nil {
		return 0, backendErr(FailureTransient, 0, err)
	}
	if s.entailment >= len(logits) {
		return 0, backendErr(FailureMalformed, 0, fmt.Errorf("model returned %d logits", len(logits)))
	}
	return entailmentScore(logits, s.entailment, s.contradiction, s.cfg.ScoreMode), nil
}

func entailmentScore(logits []float32, entailment, contradiction int, mode string) float64 {
	e := float64(logits[entailment])
	if mode != ScoreProbability || contradiction < 0 || contradiction >= len(logits) {
		return e
	}
	c := float64(logits[contradiction])
	m := math.Max(e, c)
	pe := math.Exp(e - m)
	pc := math.Exp(c - m)
	return pe / (pe + pc)
}
