package labeler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors reported by scorers. The first four are retryable.
var (
	ErrRateLimited       = errors.New("backend rate limited")
	ErrWarmingUp         = errors.New("backend warming up")
	ErrTransient         = errors.New("transient backend error")
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrPermanent         = errors.New("permanent backend failure")
)

// FailureKind tells the retry policy how a backend call failed.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureRateLimited
	FailureWarmingUp
	FailureMalformed
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureWarmingUp:
		return "warming_up"
	case FailureMalformed:
		return "malformed"
	case FailurePermanent:
		return "permanent"
	default:
		return "transient"
	}
}

func (k FailureKind) sentinel() error {
	switch k {
	case FailureRateLimited:
		return ErrRateLimited
	case FailureWarmingUp:
		return ErrWarmingUp
	case FailureMalformed:
		return ErrMalformedResponse
	case FailurePermanent:
		return ErrPermanent
	default:
		return ErrTransient
	}
}

// BackendError is returned by scorer implementations. It unwraps to both the
// sentinel for its kind and the underlying cause.
type BackendError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func backendErr(kind FailureKind, status int, err error) error {
	return &BackendError{Kind: kind, StatusCode: status, Err: err}
}

// PermanentError is the terminal outcome of the retry policy.
type PermanentError struct {
	Attempts int
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPermanent) match every PermanentError.
func (e *PermanentError) Is(target error) bool { return target == ErrPermanent }

// CategoryError reports that no label of a category could be scored.
type CategoryError struct {
	Category string
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("category %q: %v", e.Category, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

// ItemError reports that an item could not be fully analyzed.
type ItemError struct {
	Position int
	Failures map[string]error
}

func (e *ItemError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e.Failures[name])
	}
	return fmt.Sprintf("item %d failed (%s)", e.Position, strings.Join(parts, "; "))
}

func (e *ItemError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}
