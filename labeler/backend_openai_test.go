package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYesProbability(t *testing.T) {
	p, err := yesProbability(map[string]float64{
		"Yes":  math.Log(0.6),
		" yes": math.Log(0.1),
		"No":   math.Log(0.3),
		"Mayb": math.Log(0.05),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p, 1e-9)

	_, err = yesProbability(map[string]float64{"Perhaps": -0.1})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClassifyOpenAIError(t *testing.T) {
	ctx := context.Background()

	err := classifyOpenAIError(ctx, &openai.APIError{HTTPStatusCode: 429, Message: "slow down"})
	assert.ErrorIs(t, err, ErrRateLimited)

	err = classifyOpenAIError(ctx, &openai.APIError{HTTPStatusCode: 401, Message: "bad key"})
	assert.ErrorIs(t, err, ErrPermanent)

	err = classifyOpenAIError(ctx, &openai.RequestError{HTTPStatusCode: 200, Err: errors.New("decode")})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	err = classifyOpenAIError(ctx, &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("gateway")})
	assert.ErrorIs(t, err, ErrTransient)

	err = classifyOpenAIError(ctx, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTransient)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = classifyOpenAIError(cancelled, errors.New("request aborted"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOpenAIScorer_RequiresKey(t *testing.T) {
	_, err := NewOpenAIScorer(OpenAIConfig{})
	assert.Error(t, err)

	s, err := NewOpenAIScorer(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai:"+DefaultOpenAIModel, s.ModelID())
}

func newOpenAITestServer(t *testing.T, handler http.HandlerFunc) *OpenAIScorer {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s, err := NewOpenAIScorer(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Model:   "judge-model",
		Timeout: Duration(5 * time.Second),
	})
	require.NoError(t, err)
	return s
}

func TestOpenAIScorer_Score(t *testing.T) {
	var got openai.ChatCompletionRequest
	s := newOpenAITestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "judge-model",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "Yes"},
				"finish_reason": "length",
				"logprobs": {"content": [{
					"token": "Yes",
					"logprob": -0.2231435513,
					"top_logprobs": [
						{"token": "Yes", "logprob": -0.2231435513},
						{"token": "No", "logprob": -1.6094379124}
					]
				}]}
			}]
		}`))
	})

	score, err := s.Score(context.Background(), "Markets rally", "This text is about Economy.")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, score, 1e-6)

	assert.Equal(t, "judge-model", got.Model)
	assert.True(t, got.LogProbs)
	assert.Equal(t, 1, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "Premise: Markets rally")
	assert.Contains(t, got.Messages[1].Content, "Hypothesis: This text is about Economy.")
}

func TestOpenAIScorer_RateLimited(t *testing.T) {
	s := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	})

	_, err := s.Score(context.Background(), "p", "h")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, StateRateLimited, ClassifyFailure(err))
}

func TestOpenAIScorer_NoLogprobs(t *testing.T) {
	s := newOpenAITestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Yes"}}]}`))
	})

	_, err := s.Score(context.Background(), "p", "h")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
