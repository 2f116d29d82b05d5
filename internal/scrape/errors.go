package scrape

import (
	"errors"
	"fmt"
)

// ErrPolicyDenied marks a path forbidden by robots.txt. Never retried; the
// entity is skipped without any network call.
var ErrPolicyDenied = errors.New("path denied by robots policy")

// FetchErrorKind classifies fetch failures for retry decisions.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchNotFound    FetchErrorKind = "not_found"
	FetchForbidden   FetchErrorKind = "forbidden"
	FetchBadRequest  FetchErrorKind = "bad_request"
	FetchRateLimited FetchErrorKind = "rate_limited"
	FetchServer      FetchErrorKind = "server"
	FetchNetwork     FetchErrorKind = "network"
	FetchTimeout     FetchErrorKind = "timeout"
)

// FetchError is returned when a URL could not be retrieved.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchRateLimited, FetchServer, FetchNetwork, FetchTimeout:
		return true
	default:
		return false
	}
}

// ParseError is returned by the normalizer on structurally unexpected input.
// The orchestrator treats it as that entity's failure, never run-fatal.
type ParseError struct {
	Stage  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Stage, e.Reason)
}

// NewParseError builds a ParseError for the given pipeline stage.
func NewParseError(stage, format string, args ...any) *ParseError {
	return &ParseError{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}
