package labeler

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

var errEmptyText = errors.New("empty text")

// Analyzer labels one item across every configured category.
type Analyzer struct {
	evaluator  *Evaluator
	categories []LabelCategory
	logger     *slog.Logger
}

// NewAnalyzer validates the category set and binds it to an evaluator.
func NewAnalyzer(evaluator *Evaluator, categories []LabelCategory, logger *slog.Logger) (*Analyzer, error) {
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if err := ValidateCategories(categories); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cats := make([]LabelCategory, len(categories))
	copy(cats, categories)
	return &Analyzer{evaluator: evaluator, categories: cats, logger: logger}, nil
}

// Categories returns the categories every record will contain.
func (a *Analyzer) Categories() []LabelCategory {
	out := make([]LabelCategory, len(a.categories))
	copy(out, a.categories)
	return out
}

// Analyze evaluates every category for item. Categories are independent: a
// failing one does not stop the others, but any failure makes the whole item
// an *ItemError since records are never stored partially.
func (a *Analyzer) Analyze(ctx context.Context, item TextItem) (AnalysisRecord, error) {
	text := NormalizeText(item.Text)
	if text == "" {
		return AnalysisRecord{}, &ItemError{Position: item.Position, Failures: map[string]error{"text": errEmptyText}}
	}
	results := make(map[string]CategoryResult, len(a.categories))
	var failures map[string]error
	for _, cat := range a.categories {
		res, err := a.evaluator.Evaluate(ctx, text, cat)
		if err != nil {
			if ctx.Err() != nil {
				return AnalysisRecord{}, ctx.Err()
			}
			if failures == nil {
				failures = make(map[string]error)
			}
			failures[cat.Name] = err
			a.logger.Debug("category failed", "position", item.Position, "category", cat.Name, "error", err)
			continue
		}
		results[cat.Name] = res
	}
	if len(failures) > 0 {
		return AnalysisRecord{}, &ItemError{Position: item.Position, Failures: failures}
	}
	return AnalysisRecord{
		Position:   item.Position,
		Text:       item.Text,
		Categories: results,
	}, nil
}
