package openrouter

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey = errors.New("openrouter api key is not configured")
	// ErrCancelled is returned when the caller aborts; it is never retried.
	ErrCancelled = errors.New("openrouter call cancelled")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter returned %d: %s", e.StatusCode, e.Body)
}

// UpstreamError is the terminal failure after the retry budget is spent.
type UpstreamError struct {
	Attempts int
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("openrouter failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type callbackError struct {
	err error
}

func (e *callbackError) Error() string {
	return e.err.Error()
}

func (e *callbackError) Unwrap() error {
	return e.err
}
