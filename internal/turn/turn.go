package turn

import (
	"context"
	"errors"
	"time"

	"lightchat/backend/internal/openrouter"
	"lightchat/backend/internal/search"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/stream"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrInvalidTurn  = errors.New("message content is required")
	// ErrCancelled is returned by Run when the client went away mid-turn.
	ErrCancelled = openrouter.ErrCancelled
)

type Mode string

const (
	ModePlain     Mode = "plain"
	ModeSearch    Mode = "search"
	ModeDeepThink Mode = "deep_think"
)

// Turn is one user submission. DeepThink takes precedence over WebSearch
// when both are set.
type Turn struct {
	ChatID    string
	Content   string
	ModelID   string
	WebSearch bool
	DeepThink bool
}

func (t Turn) Mode() Mode {
	switch {
	case t.DeepThink:
		return ModeDeepThink
	case t.WebSearch:
		return ModeSearch
	default:
		return ModePlain
	}
}

// Pending is a turn whose user message has been saved and that is ready to
// stream.
type Pending struct {
	Turn        Turn
	Chat        store.Chat
	ModelID     string
	UserMessage store.Message
}

type Store interface {
	GetChat(ctx context.Context, id string) (store.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]store.Message, error)
	CreateMessage(ctx context.Context, chatID, content, role string, extra store.MessageExtra) (store.Message, error)
	UpdateChat(ctx context.Context, id string, update store.ChatUpdate) (store.Chat, error)
}

type Completer interface {
	StreamComplete(ctx context.Context, messages []openrouter.Message, onDelta func(string) error, opts openrouter.Options) error
}

type Searcher interface {
	Search(ctx context.Context, query string, numResults, concurrency int) ([]search.Result, error)
	Summarize(ctx context.Context, query string, results []search.Result, modelID string) (string, error)
}

// Sink receives the events of one turn in order.
type Sink interface {
	Send(event stream.Event) error
	Done() error
	Close()
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
