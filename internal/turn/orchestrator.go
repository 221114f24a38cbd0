package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/metrics"
	"lightchat/backend/internal/openrouter"
	"lightchat/backend/internal/search"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/stream"
)

const (
	DefaultReplayChunkRunes = 50
	DefaultReplayDelay      = 10 * time.Millisecond
)

const (
	msgUpstreamFailed  = "The model did not respond. Please try again."
	msgMissingAPIKey   = "The OpenRouter API key is not configured. Add it in settings."
	msgEmptyResponse   = "The model returned an empty response. Please try again."
	msgHistoryFailed   = "Could not load the conversation history."
	msgSearchFailed    = "Web search failed. Answering without search results."
	msgDeepThinkFailed = "Deep think failed. Answering directly."

	searchStartedText = "Searching the web..."
	analyzingText     = "Analyzing search results..."
)

var errEmptyCompletion = errors.New("completion returned no text")

type Config struct {
	SearchResults     int
	SearchConcurrency int
	ReplayChunkRunes  int
	ReplayDelay       time.Duration
}

type Orchestrator struct {
	store     Store
	completer Completer
	searcher  Searcher
	cfg       Config
	sleep     SleepFunc
	log       *logger.Logger
}

type Option func(*Orchestrator)

// WithSleeper replaces the wait between replayed search answer chunks.
func WithSleeper(sleep SleepFunc) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func New(st Store, completer Completer, searcher Searcher, cfg Config, opts ...Option) *Orchestrator {
	if cfg.SearchResults <= 0 {
		cfg.SearchResults = search.DefaultNumResults
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = search.DefaultConcurrency
	}
	if cfg.ReplayChunkRunes <= 0 {
		cfg.ReplayChunkRunes = DefaultReplayChunkRunes
	}
	if cfg.ReplayDelay <= 0 {
		cfg.ReplayDelay = DefaultReplayDelay
	}
	o := &Orchestrator{
		store:     st,
		completer: completer,
		searcher:  searcher,
		cfg:       cfg,
		sleep:     sleepWithContext,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "turn")
	return o
}

// Begin validates t, loads its chat and saves the user message. Any error
// here is returned before a stream is opened.
func (o *Orchestrator) Begin(ctx context.Context, t Turn) (*Pending, error) {
	t.ChatID = strings.TrimSpace(t.ChatID)
	t.Content = strings.TrimSpace(t.Content)
	if t.ChatID == "" || t.Content == "" {
		return nil, ErrInvalidTurn
	}

	chat, err := o.store.GetChat(ctx, t.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	modelID := strings.TrimSpace(t.ModelID)
	if modelID == "" {
		modelID = chat.ModelID
	}

	userMessage, err := o.store.CreateMessage(ctx, chat.ID, t.Content, store.RoleUser, store.MessageExtra{})
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	return &Pending{Turn: t, Chat: chat, ModelID: modelID, UserMessage: userMessage}, nil
}

type result struct {
	answer   string
	thinking string
	// degraded marks fallback and error paths; those never name the chat.
	degraded bool
}

// Run streams the response for p into sink and persists the assistant
// message. A non-aborted turn always ends with sink.Done; a cancelled one
// closes sink without it and returns ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, p *Pending, sink Sink) error {
	mode := p.Turn.Mode()
	log := o.log.With("chat_id", p.Chat.ID, "mode", string(mode), "model", p.ModelID)
	started := time.Now()

	history, err := o.store.ListMessages(ctx, p.Chat.ID)
	if err != nil {
		if ctx.Err() != nil {
			return o.abort(sink, mode, log)
		}
		log.Error("load history failed", "error", err.Error())
		_ = sink.Send(stream.Error(msgHistoryFailed))
		_ = sink.Done()
		metrics.Turns.WithLabelValues(string(mode), "error").Inc()
		return fmt.Errorf("load history: %w", err)
	}
	firstResponse := !hasAssistantMessage(history)
	messages := toUpstream(history)

	var res result
	switch mode {
	case ModeDeepThink:
		res, err = o.runDeepThink(ctx, p, messages, sink, log)
	case ModeSearch:
		res, err = o.runSearch(ctx, p, messages, sink, log)
	default:
		res, err = o.runPlain(ctx, p, messages, sink, log)
	}
	if err != nil || ctx.Err() != nil {
		return o.abort(sink, mode, log)
	}

	saved := false
	if strings.TrimSpace(res.answer) != "" {
		saved = o.persist(ctx, p.Chat.ID, res, log)
	}
	if saved && !res.degraded && firstResponse {
		o.nameChat(ctx, p.Chat.ID, res.answer, log)
	}

	outcome := "ok"
	if res.degraded {
		outcome = "degraded"
	}
	metrics.Turns.WithLabelValues(string(mode), outcome).Inc()
	log.Info("turn completed",
		"outcome", outcome,
		"answer_chars", len([]rune(res.answer)),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if err := sink.Done(); err != nil {
		log.Debug("done marker not delivered", "error", err.Error())
	}
	return nil
}

// runPlain streams one completion over the history. Upstream failure is
// reported in-stream and yields a degraded result holding any partial text.
func (o *Orchestrator) runPlain(ctx context.Context, p *Pending, messages []openrouter.Message, sink Sink, log *logger.Logger) (result, error) {
	answer, err := o.complete(ctx, p, messages, func(accumulated string) error {
		return emit(sink, stream.Content(accumulated))
	})
	if err == nil {
		return result{answer: answer}, nil
	}
	if isCancellation(ctx, err) {
		return result{}, ErrCancelled
	}

	log.Warn("completion failed", "error", err.Error())
	if err := emit(sink, stream.Error(userFacingMessage(err))); err != nil {
		return result{}, err
	}
	return result{answer: answer, degraded: true}, nil
}

func (o *Orchestrator) runSearch(ctx context.Context, p *Pending, messages []openrouter.Message, sink Sink, log *logger.Logger) (result, error) {
	if err := emit(sink, stream.Event{Status: stream.StatusSearchStarted, Chunk: searchStartedText}); err != nil {
		return result{}, err
	}

	query := p.Turn.Content
	results, err := o.searcher.Search(ctx, query, o.cfg.SearchResults, o.cfg.SearchConcurrency)
	if err == nil && len(results) == 0 {
		err = search.ErrNoResults
	}
	if err != nil {
		if isCancellation(ctx, err) {
			return result{}, ErrCancelled
		}
		return o.fallback(ctx, p, messages, sink, log, msgSearchFailed, err)
	}

	if err := emit(sink, stream.Event{Status: stream.StatusAnalyzing, Chunk: analyzingText}); err != nil {
		return result{}, err
	}

	answer, err := o.searcher.Summarize(ctx, query, results, p.ModelID)
	if err != nil {
		if isCancellation(ctx, err) {
			return result{}, ErrCancelled
		}
		return o.fallback(ctx, p, messages, sink, log, msgSearchFailed, err)
	}

	if err := o.replay(ctx, answer, sink); err != nil {
		return result{}, err
	}
	return result{answer: answer}, nil
}

func (o *Orchestrator) runDeepThink(ctx context.Context, p *Pending, messages []openrouter.Message, sink Sink, log *logger.Logger) (result, error) {
	if err := emit(sink, stream.Marker(stream.StatusThinkingStarted)); err != nil {
		return result{}, err
	}

	thinkMessages := append(cloneMessages(messages), openrouter.Message{
		Role:    "user",
		Content: thinkingInstruction(p.Turn.Content),
	})
	trace, err := o.complete(ctx, p, thinkMessages, func(accumulated string) error {
		return emit(sink, stream.Thinking(accumulated, false))
	})
	if err != nil {
		if isCancellation(ctx, err) {
			return result{}, ErrCancelled
		}
		return o.fallback(ctx, p, messages, sink, log, msgDeepThinkFailed, err)
	}
	if err := emit(sink, stream.Thinking(trace, true)); err != nil {
		return result{}, err
	}

	answerMessages := append(cloneMessages(messages),
		openrouter.Message{Role: "assistant", Content: trace},
		openrouter.Message{Role: "user", Content: answerInstruction(p.Turn.Content)},
	)
	answer, err := o.complete(ctx, p, answerMessages, func(accumulated string) error {
		return emit(sink, stream.Content(accumulated))
	})
	if err != nil {
		if isCancellation(ctx, err) {
			return result{}, ErrCancelled
		}
		return o.fallback(ctx, p, messages, sink, log, msgDeepThinkFailed, err)
	}
	return result{answer: answer, thinking: trace}, nil
}

// fallback reports cause in-stream and answers with a plain completion.
func (o *Orchestrator) fallback(ctx context.Context, p *Pending, messages []openrouter.Message, sink Sink, log *logger.Logger, notice string, cause error) (result, error) {
	log.Warn("mode failed, falling back to plain completion", "error", cause.Error())
	if err := emit(sink, stream.Error(notice)); err != nil {
		return result{}, err
	}
	res, err := o.runPlain(ctx, p, messages, sink, log)
	res.degraded = true
	return res, err
}

// complete runs one upstream call and hands the accumulated text to onText
// after every delta. A retried attempt starts from empty text, so its first
// event replaces the preview of the failed one. An empty successful
// completion is an error.
func (o *Orchestrator) complete(ctx context.Context, p *Pending, messages []openrouter.Message, onText func(string) error) (string, error) {
	var accumulated strings.Builder
	err := o.completer.StreamComplete(ctx, messages, func(delta string) error {
		accumulated.WriteString(delta)
		return onText(accumulated.String())
	}, openrouter.Options{
		Model:     p.ModelID,
		CacheKey:  "chat:" + p.Chat.ID,
		OnAttempt: func(int) { accumulated.Reset() },
	})

	text := accumulated.String()
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyCompletion
	}
	return text, err
}

// replay sends text as growing content events, ReplayChunkRunes at a time.
func (o *Orchestrator) replay(ctx context.Context, text string, sink Sink) error {
	runes := []rune(text)
	size := o.cfg.ReplayChunkRunes
	for end := size; ; end += size {
		if end > len(runes) {
			end = len(runes)
		}
		if err := emit(sink, stream.Content(string(runes[:end]))); err != nil {
			return err
		}
		if end == len(runes) {
			return nil
		}
		if err := o.sleep(ctx, o.cfg.ReplayDelay); err != nil {
			return ErrCancelled
		}
	}
}

// persist saves the assistant message. A failed save with a thinking trace
// is retried once without it.
func (o *Orchestrator) persist(ctx context.Context, chatID string, res result, log *logger.Logger) bool {
	extra := store.MessageExtra{ThinkingProcess: res.thinking}
	_, err := o.store.CreateMessage(ctx, chatID, res.answer, store.RoleAssistant, extra)
	if err == nil {
		return true
	}
	if res.thinking == "" {
		log.Error("save assistant message failed", "error", err.Error())
		return false
	}

	log.Warn("save with thinking process failed, retrying without it", "error", err.Error())
	if _, err := o.store.CreateMessage(ctx, chatID, res.answer, store.RoleAssistant, store.MessageExtra{}); err != nil {
		log.Error("save assistant message failed", "error", err.Error())
		return false
	}
	return true
}

func (o *Orchestrator) nameChat(ctx context.Context, chatID, answer string, log *logger.Logger) {
	name := ChatName(answer)
	if name == "" {
		return
	}
	if _, err := o.store.UpdateChat(ctx, chatID, store.ChatUpdate{Name: &name}); err != nil {
		log.Warn("chat naming failed", "error", err.Error())
	}
}

func (o *Orchestrator) abort(sink Sink, mode Mode, log *logger.Logger) error {
	sink.Close()
	metrics.Turns.WithLabelValues(string(mode), "cancelled").Inc()
	log.Info("turn cancelled")
	return ErrCancelled
}

func emit(sink Sink, event stream.Event) error {
	if err := sink.Send(event); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrCancelled) || errors.Is(err, stream.ErrClosed)
}

func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, openrouter.ErrMissingAPIKey):
		return msgMissingAPIKey
	case errors.Is(err, errEmptyCompletion):
		return msgEmptyResponse
	default:
		return msgUpstreamFailed
	}
}

func hasAssistantMessage(history []store.Message) bool {
	for _, msg := range history {
		if msg.Role == store.RoleAssistant {
			return true
		}
	}
	return false
}

func toUpstream(history []store.Message) []openrouter.Message {
	out := make([]openrouter.Message, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		out = append(out, openrouter.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func cloneMessages(messages []openrouter.Message) []openrouter.Message {
	return append(make([]openrouter.Message, 0, len(messages)+2), messages...)
}
