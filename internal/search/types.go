package search

import (
	"context"
	"errors"

	"lightchat/backend/internal/openrouter"
)

var (
	ErrNotConfigured = errors.New("google search api key or engine id is not configured")
	ErrNoResults     = errors.New("no usable search results")
)

type Result struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

func (r Result) HasContent() bool {
	return r.Content != ""
}

// Error is a mode-level search failure: the search API itself failed or
// nothing could be summarized. Per-page failures never surface as Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "search " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Engine interface {
	Query(ctx context.Context, query string, num int) ([]Result, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type Completer interface {
	StreamComplete(ctx context.Context, messages []openrouter.Message, onDelta func(string) error, opts openrouter.Options) error
}
