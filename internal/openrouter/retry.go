package openrouter

import (
	"context"
	"time"
)

const baseBackoff = time.Second

// RetryState tracks one call's retry budget.
type RetryState struct {
	Attempt    int
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryState(maxRetries int) *RetryState {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryState{MaxRetries: maxRetries, Backoff: baseBackoff}
}

// Next returns the delay before the next retry (Backoff * 2^n for the n-th
// retry, counting from zero), or false once the budget is spent.
func (s *RetryState) Next() (time.Duration, bool) {
	if s.Attempt >= s.MaxRetries {
		return 0, false
	}
	delay := s.Backoff << s.Attempt
	s.Attempt++
	return delay, true
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
