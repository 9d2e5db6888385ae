package labeler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHFURL is the hosted zero-shot classification endpoint.
const DefaultHFURL = "https://api-inference.huggingface.co/models/facebook/bart-large-mnli"

// HFScorer calls a hosted zero-shot classification endpoint.
type HFScorer struct {
	client     *http.Client
	url        string
	token      string
	multiLabel bool
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	CandidateLabels    []string `json:"candidate_labels"`
	HypothesisTemplate string   `json:"hypothesis_template"`
	MultiLabel         bool     `json:"multi_label"`
}

type hfResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
	Error  string    `json:"error"`
}

type hfLabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NewHFScorer creates a scorer for cfg.URL. Token is sent as a bearer token
// when set.
func NewHFScorer(cfg HFConfig) (*HFScorer, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultHFURL
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HFScorer{
		client:     &http.Client{Timeout: timeout},
		url:        cfg.URL,
		token:      cfg.Token,
		multiLabel: cfg.MultiLabel,
	}, nil
}

// Close releases resources.
func (s *HFScorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// ModelID returns the endpoint URL.
func (s *HFScorer) ModelID() string { return s.url }

// Score asks for a single hypothesis. Multi-label mode is forced so the
// score is an independent entailment probability.
func (s *HFScorer) Score(ctx context.Context, premise, hypothesis string) (float64, error) {
	scores, err := s.request(ctx, premise, []string{hypothesis}, true)
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch scores all hypotheses in one request. The service returns them
// sorted by score; they are realigned to the input order.
func (s *HFScorer) ScoreBatch(ctx context.Context, premise string, hypotheses []string) ([]float64, error) {
	return s.request(ctx, premise, hypotheses, s.multiLabel)
}

func (s *HFScorer) request(ctx context.Context, premise string, hypotheses []string, multiLabel bool) ([]float64, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: premise,
		Parameters: hfParameters{
			CandidateLabels:    hypotheses,
			HypothesisTemplate: "{}",
			MultiLabel:         multiLabel,
		},
	})
	if err != nil {
		return nil, backendErr(FailurePermanent, 0, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, backendErr(FailurePermanent, 0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, backendErr(FailureTransient, 0, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backendErr(FailureTransient, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backendErr(classifyStatus(resp.StatusCode), resp.StatusCode, errors.New(snippet(payload)))
	}
	return alignScores(payload, hypotheses)
}

// classifyStatus maps an HTTP status to a failure kind.
func classifyStatus(code int) FailureKind {
	switch {
	case code == http.StatusTooManyRequests:
		return FailureRateLimited
	case code == http.StatusServiceUnavailable:
		return FailureWarmingUp
	case code == http.StatusRequestTimeout, code >= 500:
		return FailureTransient
	default:
		return FailurePermanent
	}
}

func alignScores(payload []byte, hypotheses []string) ([]float64, error) {
	byLabel := make(map[string]float64, len(hypotheses))
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pairs []hfLabelScore
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, backendErr(FailureMalformed, http.StatusOK, fmt.Errorf("decode response: %w", err))
		}
		for _, p := range pairs {
			byLabel[p.Label] = p.Score
		}
	} else {
		var out hfResponse
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, backendErr(FailureMalformed, http.StatusOK, fmt.Errorf("decode response: %w", err))
		}
		if out.Error != "" {
			return nil, backendErr(FailureMalformed, http.StatusOK, errors.New(out.Error))
		}
		if out.Labels == nil || out.Scores == nil {
			return nil, backendErr(FailureMalformed, http.StatusOK, errors.New("response missing labels or scores"))
		}
		if len(out.Labels) != len(out.Scores) {
			return nil, backendErr(FailureMalformed, http.StatusOK,
				fmt.Errorf("%d labels but %d scores", len(out.Labels), len(out.Scores)))
		}
		for i, l := range out.Labels {
			byLabel[l] = out.Scores[i]
		}
	}
	scores := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		v, ok := byLabel[h]
		if !ok {
			return nil, backendErr(FailureMalformed, http.StatusOK, fmt.Errorf("no score for %q", h))
		}
		scores[i] = v
	}
	return scores, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
