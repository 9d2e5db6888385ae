package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHFTestServer(t *testing.T, handler http.HandlerFunc) (*HFScorer, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	scorer, err := NewHFScorer(HFConfig{URL: server.URL, Token: "hf_test", Timeout: Duration(5 * time.Second)})
	require.NoError(t, err)
	t.Cleanup(func() {
		scorer.Close()
		server.Close()
	})
	return scorer, server
}

func TestHFScorer_ScoreBatchRealigns(t *testing.T) {
	var got hfRequest
	scorer, _ := newHFTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		// Sorted by score, not by request order.
		_, _ = w.Write([]byte(`{"sequence":"x","labels":["b","c","a"],"scores":[0.7,0.2,0.1]}`))
	})

	scores, err := scorer.ScoreBatch(context.Background(), "Border talks stall", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.7, 0.2}, scores)

	assert.Equal(t, "Border talks stall", got.Inputs)
	assert.Equal(t, []string{"a", "b", "c"}, got.Parameters.CandidateLabels)
	assert.Equal(t, "{}", got.Parameters.HypothesisTemplate)
	assert.False(t, got.Parameters.MultiLabel)
}

func TestHFScorer_ScoreForcesMultiLabel(t *testing.T) {
	var got hfRequest
	scorer, _ := newHFTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"label":"This text is about Economy.","score":0.83}]`))
	})

	score, err := scorer.Score(context.Background(), "Markets rally", "This text is about Economy.")
	require.NoError(t, err)
	assert.Equal(t, 0.83, score)
	assert.True(t, got.Parameters.MultiLabel)
}

func TestHFScorer_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusServiceUnavailable, ErrWarmingUp},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusBadGateway, ErrTransient},
		{http.StatusRequestTimeout, ErrTransient},
		{http.StatusBadRequest, ErrPermanent},
		{http.StatusUnauthorized, ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			scorer, _ := newHFTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})
			_, err := scorer.Score(context.Background(), "p", "h")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var be *BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHFScorer_MalformedResponses(t *testing.T) {
	bodies := map[string]string{
		"not json":       `<html>oops</html>`,
		"missing scores": `{"labels":["h"]}`,
		"length":         `{"labels":["h","x"],"scores":[0.1]}`,
		"missing label":  `{"labels":["x"],"scores":[0.1]}`,
		"error field":    `{"error":"Model is currently loading"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			scorer, _ := newHFTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := scorer.Score(context.Background(), "p", "h")
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, StateTransientError, ClassifyFailure(err))
		})
	}
}

func TestHFScorer_WithRetryPolicy(t *testing.T) {
	var calls atomic.Int32
	scorer, _ := newHFTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"labels":["h"],"scores":[0.6]}`))
	})
	policy, sleeps := newTestPolicy(RetryConfig{RateLimitDelay: Duration(time.Minute)})

	var score float64
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		var err error
		score, err = scorer.Score(ctx, "p", "h")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0.6, score)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, sleeps.durations())
}

func TestHFScorer_CancelledRequest(t *testing.T) {
	release := make(chan struct{})
	scorer, _ := newHFTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := scorer.Score(ctx, "p", "h")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, FailureRateLimited, classifyStatus(429))
	assert.Equal(t, FailureWarmingUp, classifyStatus(503))
	assert.Equal(t, FailureTransient, classifyStatus(504))
	assert.Equal(t, FailurePermanent, classifyStatus(404))
}
