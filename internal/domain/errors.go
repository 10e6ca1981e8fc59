package domain

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies a failed retrieval.
type FetchErrorKind string

const (
	FetchTimeout      FetchErrorKind = "timeout"
	FetchHTTPError    FetchErrorKind = "http_error"
	FetchNetworkError FetchErrorKind = "network_error"
)

// FetchError is returned once the fetcher has exhausted its retries.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPError {
		msg := fmt.Sprintf("fetch %s: http status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return msg
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseErrorReason tells whether the page shape changed or the page was empty.
type ParseErrorReason string

const (
	ParseStructureChanged ParseErrorReason = "structure_changed"
	ParseEmpty            ParseErrorReason = "empty"
)

// ParseError signals that a fetched page did not have the expected anchors.
type ParseError struct {
	Reason ParseErrorReason
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parse page: %s", e.Reason)
	}
	return fmt.Sprintf("parse page: %s: %s", e.Reason, e.Detail)
}

// ScorerError wraps a failure of the external relevance scorer.
type ScorerError struct {
	ArticleID string
	Err       error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("score article %s: %v", e.ArticleID, e.Err)
}

func (e *ScorerError) Unwrap() error {
	return e.Err
}

var (
	// ErrIndexConflict is returned when another writer keeps the index locked.
	ErrIndexConflict = errors.New("index conflict")
	// ErrNotFound is returned by lookups that have no result.
	ErrNotFound = errors.New("not found")
)

// IsFetchError reports whether err carries a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsParseError reports whether err carries a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
