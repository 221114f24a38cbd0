package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"lightchat/backend/internal/config"
)

const maxGoogleResults = 10

// KeySource supplies credentials at call time.
type KeySource interface {
	Get(key string) string
}

// GoogleEngine queries the Custom Search JSON API.
type GoogleEngine struct {
	keys     KeySource
	endpoint string
}

// NewGoogleEngine reads the API key and engine id from keys on every query.
// An empty endpoint uses the public API.
func NewGoogleEngine(keys KeySource, endpoint string) *GoogleEngine {
	return &GoogleEngine{keys: keys, endpoint: strings.TrimSpace(endpoint)}
}

func (e *GoogleEngine) Query(ctx context.Context, query string, num int) ([]Result, error) {
	apiKey := strings.TrimSpace(e.keys.Get(config.KeyGoogleSearchAPIKey))
	engineID := strings.TrimSpace(e.keys.Get(config.KeyGoogleSearchEngineID))
	if apiKey == "" || engineID == "" {
		return nil, ErrNotConfigured
	}
	if num < 1 {
		num = 1
	}
	if num > maxGoogleResults {
		num = maxGoogleResults
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if e.endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.endpoint))
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("build custom search client: %w", err)
	}

	resp, err := svc.Cse.List().Cx(engineID).Q(query).Num(int64(num)).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("google search api returned %d: %s", apiErr.Code, strings.TrimSpace(apiErr.Message))
		}
		return nil, fmt.Errorf("google search request: %w", err)
	}

	out := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = link
		}
		out = append(out, Result{
			Link:    link,
			Title:   title,
			Snippet: strings.TrimSpace(item.Snippet),
		})
	}
	return out, nil
}
