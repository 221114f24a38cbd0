package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/backend/internal/catalog"
	"lightchat/backend/internal/config"
	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/openrouter"
	"lightchat/backend/internal/search"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/stream"
	"lightchat/backend/internal/turn"
)

type testEnv struct {
	handler  Handler
	router   http.Handler
	store    *store.Store
	settings *config.EnvFileSettings
	envFile  string
}

func newTestEnv(t *testing.T, completer turn.Completer, searcher turn.Searcher) *testEnv {
	t.Helper()
	for _, key := range config.SettingKeys {
		t.Setenv(key, "")
	}

	database, err := store.OpenDB(":memory:", "")
	require.NoError(t, err)
	st := store.New(database)
	t.Cleanup(func() { _ = st.Close() })

	envFile := filepath.Join(t.TempDir(), ".env")
	settings, err := config.LoadEnvFileSettings(envFile)
	require.NoError(t, err)

	models, err := catalog.Load("")
	require.NoError(t, err)

	if searcher == nil {
		searcher = stubSearcher{}
	}
	turns := turn.New(st, completer, searcher, turn.Config{},
		turn.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	cfg := config.Config{
		AllowedOrigins:    []string{"http://localhost:3000"},
		SessionCookieName: "auth_token",
		SessionTTL:        time.Hour,
	}
	handler := NewHandler(cfg, st, settings, models, turns, logger.Nop())
	return &testEnv{
		handler:  handler,
		router:   NewRouter(handler),
		store:    st,
		settings: settings,
		envFile:  envFile,
	}
}

// signIn creates the admin and a session directly in the store.
func (e *testEnv) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	ctx := context.Background()
	admin, err := e.store.CreateAdmin(ctx, "root", "correct horse")
	require.NoError(t, err)
	token, expiresAt, err := e.store.CreateSession(ctx, admin.ID, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: "auth_token", Value: token, Expires: expiresAt}
}

func (e *testEnv) withAPIKey(t *testing.T) {
	t.Helper()
	require.NoError(t, e.settings.Set(config.KeyOpenRouterAPIKey, "sk-test"))
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func decodeJSONBody(t *testing.T, resp *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, resp.Body.String())
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload errorResponse
	decodeJSONBody(t, resp, &payload)
	return payload.Error.Code
}

// readEvents parses an SSE body into its events and reports whether the
// stream ended with the [DONE] marker.
func readEvents(t *testing.T, body string) ([]stream.Event, bool) {
	t.Helper()
	var events []stream.Event
	done := false
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		require.True(t, ok, "unexpected line %q", line)
		if data == "[DONE]" {
			done = true
			continue
		}
		require.False(t, done, "event after [DONE]")
		var event stream.Event
		require.NoError(t, json.Unmarshal([]byte(data), &event))
		events = append(events, event)
	}
	return events, done
}

type stubCompleter struct {
	deltas []string
	err    error
}

func (s stubCompleter) StreamComplete(_ context.Context, _ []openrouter.Message, onDelta func(string) error, _ openrouter.Options) error {
	for _, delta := range s.deltas {
		if err := onDelta(delta); err != nil {
			return err
		}
	}
	return s.err
}

type stubSearcher struct {
	results []search.Result
	answer  string
}

func (s stubSearcher) Search(context.Context, string, int, int) ([]search.Result, error) {
	return s.results, nil
}

func (s stubSearcher) Summarize(context.Context, string, []search.Result, string) (string, error) {
	return s.answer, nil
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var payload map[string]string
	decodeJSONBody(t, resp, &payload)
	assert.Equal(t, "ok", payload["status"])
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestSetupLoginLogoutFlow(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)

	resp := env.do(t, http.MethodGet, "/api/auth/check-admin", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var check map[string]bool
	decodeJSONBody(t, resp, &check)
	assert.False(t, check["exists"])

	resp = env.do(t, http.MethodPost, "/api/auth/setup", `{"username":"root","password":"short"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "password must be at least 8")

	resp = env.do(t, http.MethodPost, "/api/auth/setup", `{"username":"root","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.NotContains(t, resp.Body.String(), "correct horse")
	setupCookie := sessionCookie(t, resp)

	resp = env.do(t, http.MethodPost, "/api/auth/setup", `{"username":"other","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "admin_exists", errorCode(t, resp))

	resp = env.do(t, http.MethodGet, "/api/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = env.do(t, http.MethodGet, "/api/chats", "", setupCookie)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"root","password":"wrong password"}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, resp))

	resp = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"root","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	loginCookie := sessionCookie(t, resp)

	resp = env.do(t, http.MethodGet, "/api/auth/me", "", loginCookie)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"username":"root"`)

	resp = env.do(t, http.MethodPost, "/api/auth/logout", "", loginCookie)
	require.Equal(t, http.StatusOK, resp.Code)
	cleared := resp.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "", cleared[0].Value)
	assert.Less(t, cleared[0].MaxAge, 0)

	resp = env.do(t, http.MethodGet, "/api/chats", "", loginCookie)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = env.do(t, http.MethodGet, "/api/chats", "", setupCookie)
	assert.Equal(t, http.StatusOK, resp.Code, "other sessions survive a logout")
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)

	resp := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"root","password":"x","extra":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPost, "/api/auth/login", `{"username":"root"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "password is required")
}

func TestRequireSessionRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)

	resp := env.do(t, http.MethodGet, "/api/models", "", &http.Cookie{Name: "auth_token", Value: "bogus"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)

	resp := env.do(t, http.MethodGet, "/api/models", "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)

	var payload struct {
		Models  []catalog.Model `json:"models"`
		Default string          `json:"default"`
	}
	decodeJSONBody(t, resp, &payload)
	require.NotEmpty(t, payload.Models)
	assert.Equal(t, env.handler.models.Default().ID, payload.Default)
}

func sessionCookie(t *testing.T, resp *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Result().Cookies() {
		if cookie.Name == "auth_token" {
			require.NotEmpty(t, cookie.Value)
			assert.True(t, cookie.HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
			return cookie
		}
	}
	t.Fatalf("no session cookie in response (headers=%v)", resp.Header())
	return nil
}
