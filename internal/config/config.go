package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort              = "8080"
	defaultDatabaseURL       = "file:lightchat.db"
	defaultEnvFile           = ".env"
	defaultSessionCookieName = "auth_token"
	defaultSessionTTLHours   = 168
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultSiteURL           = "https://light-site.com"
	defaultSiteTitle         = "Light Site Chat"
	defaultUpstreamTimeout   = 60
	defaultUpstreamRetries   = 2
	defaultSearchResults     = 5
	defaultSearchConcurrency = 5
	defaultSearchRate        = 1.0
	defaultCacheTTLSeconds   = 30
)

type Config struct {
	Port               string
	Environment        string
	AllowedOrigins     []string
	CookieSecure       bool
	SessionCookieName  string
	SessionTTL         time.Duration
	DatabaseURL        string
	DatabaseAuthToken  string
	RedisURL           string
	CacheTTL           time.Duration
	EnvFile            string
	ModelsFile         string
	OpenRouterBaseURL  string
	SiteURL            string
	SiteTitle          string
	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int
	SearchResults      int
	SearchConcurrency  int
	SearchRatePerSec   float64
	GoogleEndpoint     string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func Load() (Config, error) {
	cfg := Config{
		Port:               envOrDefault("PORT", defaultPort),
		Environment:        envOrDefault("APP_ENV", "development"),
		CookieSecure:       boolOrDefault("COOKIE_SECURE", false),
		SessionCookieName:  envOrDefault("SESSION_COOKIE_NAME", defaultSessionCookieName),
		DatabaseURL:        envOrDefault("DATABASE_URL", defaultDatabaseURL),
		DatabaseAuthToken:  strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:           durationOrDefault("CACHE_TTL_SECONDS", defaultCacheTTLSeconds),
		EnvFile:            envOrDefault("ENV_FILE", defaultEnvFile),
		ModelsFile:         strings.TrimSpace(os.Getenv("MODELS_FILE")),
		OpenRouterBaseURL:  envOrDefault("OPENROUTER_BASE_URL", defaultOpenRouterBaseURL),
		SiteURL:            envOrDefault("SITE_URL", defaultSiteURL),
		SiteTitle:          envOrDefault("SITE_TITLE", defaultSiteTitle),
		UpstreamTimeout:    durationOrDefault("UPSTREAM_TIMEOUT_SECONDS", defaultUpstreamTimeout),
		UpstreamMaxRetries: intOrDefault("UPSTREAM_MAX_RETRIES", defaultUpstreamRetries),
		SearchResults:      intOrDefault("SEARCH_RESULTS", defaultSearchResults),
		SearchConcurrency:  intOrDefault("SEARCH_CONCURRENCY", defaultSearchConcurrency),
		SearchRatePerSec:   floatOrDefault("SEARCH_RATE_PER_SECOND", defaultSearchRate),
		GoogleEndpoint:     strings.TrimSpace(os.Getenv("GOOGLE_SEARCH_ENDPOINT")),
	}

	if cfg.IsProduction() {
		cfg.CookieSecure = true
	}

	sessionTTLHours := intOrDefault("SESSION_TTL_HOURS", defaultSessionTTLHours)
	cfg.SessionTTL = time.Duration(sessionTTLHours) * time.Hour
	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("SESSION_TTL_HOURS must be > 0")
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.UpstreamTimeout <= 0 {
		return Config{}, errors.New("UPSTREAM_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.UpstreamMaxRetries < 0 {
		return Config{}, errors.New("UPSTREAM_MAX_RETRIES must be >= 0")
	}
	if cfg.SearchResults < 1 || cfg.SearchResults > 10 {
		return Config{}, errors.New("SEARCH_RESULTS must be between 1 and 10")
	}
	if cfg.SearchConcurrency < 1 {
		return Config{}, errors.New("SEARCH_CONCURRENCY must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatOrDefault(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// durationOrDefault reads a whole number of seconds.
func durationOrDefault(key string, fallbackSeconds int) time.Duration {
	return time.Duration(intOrDefault(key, fallbackSeconds)) * time.Second
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
