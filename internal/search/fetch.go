package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	defaultFetchTimeout    = 30 * time.Second
	defaultMaxBodyBytes    = int64(2_000_000)
	defaultMaxContentRunes = 2000

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	browserAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
)

var (
	ErrSkipped      = errors.New("page skipped")
	ErrNotHTML      = errors.New("page is not html")
	errEmptyContent = errors.New("page has no extractable text")
)

// Hosts that block scrapers or sit behind login walls.
var blockedHosts = []string{
	"medium.com",
	"linkedin.com",
	"facebook.com",
	"twitter.com",
	"instagram.com",
	"perplexity.ai",
}

var skippedExtensions = []string{".pdf", ".doc", ".docx"}

type FetcherConfig struct {
	RequestTimeout  time.Duration
	MaxBytes        int64
	MaxContentRunes int
}

// HTTPFetcher downloads a result page and returns its cleaned main text.
type HTTPFetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
}

func NewHTTPFetcher(cfg FetcherConfig, httpClient *http.Client) *HTTPFetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBodyBytes
	}
	if cfg.MaxContentRunes <= 0 {
		cfg.MaxContentRunes = defaultMaxContentRunes
	}

	client := &http.Client{}
	if httpClient != nil {
		copied := *httpClient
		client = &copied
	}
	// Redirects are followed by hand, one hop at most.
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &HTTPFetcher{cfg: cfg, httpClient: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	target, err := checkFetchable(rawURL)
	if err != nil {
		return "", err
	}

	requestCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	resp, err := f.get(requestCtx, target)
	if err != nil {
		return "", err
	}
	if isRedirect(resp.StatusCode) {
		location := strings.TrimSpace(resp.Header.Get("Location"))
		resp.Body.Close()
		if location == "" {
			return "", fmt.Errorf("redirect %d without location", resp.StatusCode)
		}
		next, err := target.Parse(location)
		if err != nil {
			return "", fmt.Errorf("parse redirect location: %w", err)
		}
		if next, err = checkFetchable(next.String()); err != nil {
			return "", err
		}
		if resp, err = f.get(requestCtx, next); err != nil {
			return "", err
		}
		if isRedirect(resp.StatusCode) {
			resp.Body.Close()
			return "", fmt.Errorf("too many redirects")
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if parsed, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		contentType = parsed
	}
	if !strings.EqualFold(contentType, "text/html") {
		return "", fmt.Errorf("%w: %q", ErrNotHTML, contentType)
	}

	payload, _, err := readBoundedBody(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("read page body: %w", err)
	}
	if len(payload) == 0 {
		return "", errEmptyContent
	}

	text, err := extractPageText(payload, f.cfg.MaxContentRunes)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errEmptyContent
	}
	return text, nil
}

func (f *HTTPFetcher) get(ctx context.Context, target *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", browserAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	return resp, nil
}

// checkFetchable rejects non-http URLs, binary document links and hosts on
// the block list.
func checkFetchable(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrSkipped, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrSkipped)
	}

	ext := strings.ToLower(path.Ext(parsed.Path))
	for _, skipped := range skippedExtensions {
		if ext == skipped {
			return nil, fmt.Errorf("%w: %s document", ErrSkipped, ext)
		}
	}

	host := strings.ToLower(parsed.Hostname())
	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return nil, fmt.Errorf("%w: blocked host %s", ErrSkipped, host)
		}
	}
	return parsed, nil
}

func isRedirect(status int) bool {
	return status >= http.StatusMultipleChoices && status < http.StatusBadRequest
}

func readBoundedBody(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	payload, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(payload)) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}
