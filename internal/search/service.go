package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/metrics"
	"lightchat/backend/internal/openrouter"
)

const (
	DefaultNumResults  = 5
	DefaultConcurrency = 5
	maxSummarySources  = 7
)

type Service struct {
	engine    Engine
	fetcher   PageFetcher
	completer Completer
	log       *logger.Logger
}

func NewService(engine Engine, fetcher PageFetcher, completer Completer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		engine:    engine,
		fetcher:   fetcher,
		completer: completer,
		log:       log.With("component", "search"),
	}
}

// Search runs one engine query and enriches every hit with page content using
// at most concurrency parallel fetches. Output keeps engine order except that
// results with content come first; near duplicates are removed.
func (s *Service) Search(ctx context.Context, query string, numResults, concurrency int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Op: "query", Err: errors.New("query is empty")}
	}
	if numResults <= 0 {
		numResults = DefaultNumResults
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	started := time.Now()
	items, err := s.engine.Query(ctx, query, numResults)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Op: "query", Err: err}
	}
	if len(items) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(items))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, item := range items {
		i, item := i, item
		results[i] = item
		g.Go(func() error {
			content, err := s.fetcher.Fetch(ctx, item.Link)
			if err != nil {
				if errors.Is(err, ErrSkipped) {
					metrics.SearchFetches.WithLabelValues("skipped").Inc()
				} else {
					metrics.SearchFetches.WithLabelValues("failed").Inc()
				}
				s.log.Debug("page fetch degraded to snippet", "link", item.Link, "error", err.Error())
				return nil
			}
			metrics.SearchFetches.WithLabelValues("content").Inc()
			results[i].Content = content
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	SortByContent(results)
	unique := Dedup(results)
	if removed := len(results) - len(unique); removed > 0 {
		metrics.SearchDuplicates.Add(float64(removed))
	}

	withContent := 0
	for _, result := range unique {
		if result.HasContent() {
			withContent++
		}
	}
	s.log.Info("web search completed",
		"results", len(unique),
		"with_content", withContent,
		"duplicates_removed", len(results)-len(unique),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return unique, nil
}

// Summarize asks the model for one answer grounded in the top results and
// returns the accumulated text.
func (s *Service) Summarize(ctx context.Context, query string, results []Result, modelID string) (string, error) {
	sources := summarySources(results)
	if len(sources) == 0 {
		return "", &Error{Op: "summarize", Err: ErrNoResults}
	}

	prompt := BuildSummaryPrompt(query, sources)
	var answer strings.Builder
	err := s.completer.StreamComplete(ctx, []openrouter.Message{{Role: "user", Content: prompt}}, func(delta string) error {
		answer.WriteString(delta)
		return nil
	}, openrouter.Options{
		Model:     modelID,
		OnAttempt: func(int) { answer.Reset() },
	})
	if err != nil {
		if errors.Is(err, openrouter.ErrCancelled) {
			return "", err
		}
		return "", &Error{Op: "summarize", Err: err}
	}

	text := strings.TrimSpace(answer.String())
	if text == "" {
		return "", &Error{Op: "summarize", Err: errors.New("model returned an empty summary")}
	}
	return PruneSourceList(text, sources), nil
}

func summarySources(results []Result) []Result {
	out := make([]Result, 0, maxSummarySources)
	for _, result := range results {
		if result.Content == "" && strings.TrimSpace(result.Snippet) == "" {
			continue
		}
		out = append(out, result)
		if len(out) == maxSummarySources {
			break
		}
	}
	return out
}
