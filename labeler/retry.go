package labeler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"yashubustudio/labeler/internal/metrics"
)

// RetryState is a state of the per-request retry state machine.
type RetryState int

const (
	StateAttempting RetryState = iota
	StateSuccess
	StateRateLimited
	StateWarmingUp
	StateTransientError
	StatePermanentError
)

func (s RetryState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateSuccess:
		return "success"
	case StateRateLimited:
		return "rate_limited"
	case StateWarmingUp:
		return "warming_up"
	case StateTransientError:
		return "transient_error"
	default:
		return "permanent_error"
	}
}

// ClassifyFailure maps a backend error to the state the policy moves to.
// Errors that carry no classification are treated as transient.
func ClassifyFailure(err error) RetryState {
	switch {
	case err == nil:
		return StateSuccess
	case errors.Is(err, ErrPermanent):
		return StatePermanentError
	case errors.Is(err, ErrRateLimited):
		return StateRateLimited
	case errors.Is(err, ErrWarmingUp):
		return StateWarmingUp
	case errors.Is(err, ErrTransient), errors.Is(err, ErrMalformedResponse):
		// Classified backend errors may wrap a per-request timeout.
		return StateTransientError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatePermanentError
	default:
		return StateTransientError
	}
}

// RetryPolicy wraps scorer calls with throttling and state-driven retries.
// A single policy is shared by every worker of a run.
type RetryPolicy struct {
	cfg      RetryConfig
	throttle *Throttle
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy. A nil throttle disables request pacing.
func NewRetryPolicy(cfg RetryConfig, throttle *Throttle, logger *slog.Logger) *RetryPolicy {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RetryPolicy{
		cfg:      cfg,
		throttle: throttle,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Config returns the effective retry configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.cfg
}

// Do runs call until it succeeds, the context ends or the policy gives up.
// Giving up yields a *PermanentError wrapping the last failure.
func (p *RetryPolicy) Do(ctx context.Context, call func(context.Context) error) error {
	var attempts, waits, transients int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.throttle != nil {
			if err := p.throttle.Wait(ctx); err != nil {
				return err
			}
		}
		attempts++
		start := time.Now()
		err := call(ctx)
		metrics.BackendLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.BackendCalls.WithLabelValues("ok").Inc()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.BackendCalls.WithLabelValues(callOutcome(err)).Inc()

		state := ClassifyFailure(err)
		switch state {
		case StateRateLimited, StateWarmingUp:
			if waits >= p.cfg.MaxRetries {
				return &PermanentError{Attempts: attempts, Err: err}
			}
			waits++
			delay := p.cfg.RateLimitDelay.Std()
			if state == StateWarmingUp {
				delay = p.cfg.WarmupDelay.Std()
			}
			metrics.Retries.WithLabelValues(state.String()).Inc()
			p.logger.Warn("backend not ready, backing off",
				"state", state.String(),
				"delay", delay,
				"retry", waits,
				"max", p.cfg.MaxRetries,
				"error", err)
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		case StateTransientError:
			if transients >= p.cfg.TransientRetries {
				return &PermanentError{Attempts: attempts, Err: err}
			}
			transients++
			metrics.Retries.WithLabelValues(state.String()).Inc()
			p.logger.Debug("transient backend error, retrying", "error", err)
		default:
			return &PermanentError{Attempts: attempts, Err: err}
		}
	}
}

func callOutcome(err error) string {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind.String()
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited.String()
	case errors.Is(err, ErrWarmingUp):
		return FailureWarmingUp.String()
	case errors.Is(err, ErrMalformedResponse):
		return FailureMalformed.String()
	case errors.Is(err, ErrPermanent):
		return FailurePermanent.String()
	}
	return FailureTransient.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
