package labeler

import (
	"sort"
	"strings"
	"time"
)

// TextItem is a single input text and its position in the source sequence.
type TextItem struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// LabelCategory is one independent labeling axis with a closed vocabulary.
type LabelCategory struct {
	Name     string   `json:"name" yaml:"name" toml:"name"`
	Group    string   `json:"group,omitempty" yaml:"group,omitempty" toml:"group,omitempty"`
	Labels   []string `json:"labels" yaml:"labels" toml:"labels"`
	Template string   `json:"template" yaml:"template" toml:"template"`
}

// Hypothesis renders the NLI hypothesis for label. Both "{label}" and "{}"
// placeholders are accepted; a template without a placeholder gets the label
// appended.
func (c LabelCategory) Hypothesis(label string) string {
	switch {
	case strings.Contains(c.Template, "{label}"):
		return strings.ReplaceAll(c.Template, "{label}", label)
	case strings.Contains(c.Template, "{}"):
		return strings.ReplaceAll(c.Template, "{}", label)
	case c.Template == "":
		return label
	default:
		return strings.TrimSpace(c.Template) + " " + label
	}
}

// Key returns the column-style name used in flat exports ("rhetoric_fallacy_types").
func (c LabelCategory) Key() string {
	if c.Group == "" {
		return c.Name
	}
	return c.Group + "_" + c.Name
}

// ScoredLabel pairs a label with the backend score. Higher is more confident.
type ScoredLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// CategoryResult is the ranked outcome of one category for one item.
type CategoryResult struct {
	TopMatch  string        `json:"top_match"`
	Score     float64       `json:"score"`
	AllScores []ScoredLabel `json:"all_scores"`
}

// AnalysisRecord is the complete labeling of one item. It is either stored
// with every configured category or not stored at all.
type AnalysisRecord struct {
	Position   int                       `json:"position"`
	Text       string                    `json:"text"`
	Categories map[string]CategoryResult `json:"categories"`
}

// Checkpoint is a full snapshot of the results produced so far.
type Checkpoint struct {
	RunID        string           `json:"run_id"`
	Records      []AnalysisRecord `json:"records"`
	LastPosition int              `json:"last_position"`
	Processed    int              `json:"processed"`
	Failed       []int            `json:"failed,omitempty"`
	Complete     bool             `json:"complete"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Positions returns the set of item positions that already have a record.
func (c *Checkpoint) Positions() map[int]struct{} {
	if c == nil {
		return map[int]struct{}{}
	}
	out := make(map[int]struct{}, len(c.Records))
	for _, rec := range c.Records {
		out[rec.Position] = struct{}{}
	}
	return out
}

// Clone creates a deep copy so the snapshot can be handed to a store while
// the orchestrator keeps appending.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	if c.Records != nil {
		out.Records = make([]AnalysisRecord, len(c.Records))
		for i, rec := range c.Records {
			out.Records[i] = rec.Clone()
		}
	}
	if c.Failed != nil {
		out.Failed = append([]int(nil), c.Failed...)
	}
	return out
}

// Clone deep-copies the record including every ranking.
func (r AnalysisRecord) Clone() AnalysisRecord {
	out := r
	if r.Categories != nil {
		out.Categories = make(map[string]CategoryResult, len(r.Categories))
		for name, res := range r.Categories {
			if res.AllScores != nil {
				res.AllScores = append([]ScoredLabel(nil), res.AllScores...)
			}
			out.Categories[name] = res
		}
	}
	return out
}

func sortRecords(records []AnalysisRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Position < records[j].Position
	})
}
