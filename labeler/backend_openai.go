package labeler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

const judgePrompt = "You judge textual entailment. Reply with exactly one word: yes or no."

// OpenAIScorer asks a chat model whether the premise entails the hypothesis
// and turns the first-token log probabilities of yes/no into a score.
type OpenAIScorer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIScorer creates a scorer from cfg. APIKey is required.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	return &OpenAIScorer{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout.Std(),
	}, nil
}

// Close releases resources.
func (s *OpenAIScorer) Close() error { return nil }

// ModelID returns the chat model name.
func (s *OpenAIScorer) ModelID() string { return "openai:" + s.model }

// Score returns P(yes) renormalized over the yes and no answers.
func (s *OpenAIScorer) Score(ctx context.Context, premise, hypothesis string) (float64, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgePrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Premise: %s\nHypothesis: %s\nDoes the premise entail the hypothesis?", premise, hypothesis)},
		},
		MaxTokens:   1,
		Temperature: 0,
		LogProbs:    true,
		TopLogProbs: 5,
	})
	if err != nil {
		return 0, classifyOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].LogProbs == nil || len(resp.Choices[0].LogProbs.Content) == 0 {
		return 0, backendErr(FailureMalformed, 0, errors.New("response has no log probabilities"))
	}
	first := resp.Choices[0].LogProbs.Content[0]
	candidates := make(map[string]float64, len(first.TopLogProbs)+1)
	candidates[first.Token] = first.LogProb
	for _, tp := range first.TopLogProbs {
		candidates[tp.Token] = tp.LogProb
	}
	return yesProbability(candidates)
}

// yesProbability folds token variants (" Yes", "yes") and returns
// p(yes)/(p(yes)+p(no)).
func yesProbability(logprobs map[string]float64) (float64, error) {
	var yes, no float64
	for token, lp := range logprobs {
		switch strings.ToLower(strings.TrimSpace(token)) {
		case "yes":
			yes += math.Exp(lp)
		case "no":
			no += math.Exp(lp)
		}
	}
	if yes+no == 0 {
		return 0, backendErr(FailureMalformed, 0, errors.New("model answered neither yes nor no"))
	}
	return yes / (yes + no), nil
}

// classifyOpenAIError maps client errors to failure kinds. ctx is the
// caller's context; a per-request timeout is transient.
func classifyOpenAIError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return backendErr(FailureTransient, 0, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return backendErr(classifyStatus(apiErr.HTTPStatusCode), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusOK {
			return backendErr(FailureMalformed, reqErr.HTTPStatusCode, err)
		}
		return backendErr(classifyStatus(reqErr.HTTPStatusCode), reqErr.HTTPStatusCode, err)
	}
	return backendErr(FailureTransient, 0, err)
}
