package httpapi

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/backend/internal/openrouter"
	"lightchat/backend/internal/search"
	"lightchat/backend/internal/store"
	"lightchat/backend/internal/stream"
	"lightchat/backend/internal/turn"
)

func createChat(t *testing.T, env *testEnv, cookie *http.Cookie) store.Chat {
	t.Helper()
	resp := env.do(t, http.MethodPost, "/api/chats", `{"name":"New Chat"}`, cookie)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var chat store.Chat
	decodeJSONBody(t, resp, &chat)
	return chat
}

func TestSendMessageStreamsAndPersists(t *testing.T) {
	env := newTestEnv(t, stubCompleter{deltas: []string{"Hi", " there. ", "How can I help?"}}, nil)
	env.withAPIKey(t)
	cookie := env.signIn(t)
	chat := createChat(t, env, cookie)

	resp := env.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"  Hello  "}`, cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))

	events, done := readEvents(t, resp.Body.String())
	require.True(t, done)
	require.Len(t, events, 3)
	assert.Equal(t, stream.Content("Hi"), events[0])
	assert.Equal(t, stream.Content("Hi there. "), events[1])
	assert.Equal(t, stream.Content("Hi there. How can I help?"), events[2])

	resp = env.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var messages []store.Message
	decodeJSONBody(t, resp, &messages)
	require.Len(t, messages, 2)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.Equal(t, "Hello", messages[0].Content)
	assert.Equal(t, store.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hi there. How can I help?", messages[1].Content)

	resp = env.do(t, http.MethodGet, "/api/chats/"+chat.ID, "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var renamed store.Chat
	decodeJSONBody(t, resp, &renamed)
	assert.Equal(t, turn.ChatName("Hi there. How can I help?"), renamed.Name)
}

func TestSendMessageWithWebSearch(t *testing.T) {
	searcher := stubSearcher{
		results: []search.Result{{Title: "Go", Link: "https://go.dev", Content: "The Go language"}},
		answer:  "Go is a programming language.",
	}
	env := newTestEnv(t, stubCompleter{}, searcher)
	env.withAPIKey(t)
	cookie := env.signIn(t)
	chat := createChat(t, env, cookie)

	resp := env.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"what is go","withWebSearch":true}`, cookie)
	require.Equal(t, http.StatusOK, resp.Code)

	events, done := readEvents(t, resp.Body.String())
	require.True(t, done)
	require.NotEmpty(t, events)
	assert.Equal(t, stream.StatusSearchStarted, events[0].Status)
	last := events[len(events)-1]
	assert.Equal(t, stream.Content(searcher.answer), last)
}

func TestSendMessageUpstreamFailureStillCompletesStream(t *testing.T) {
	env := newTestEnv(t, stubCompleter{err: &openrouter.UpstreamError{Attempts: 3, Err: errors.New("boom")}}, nil)
	env.withAPIKey(t)
	cookie := env.signIn(t)
	chat := createChat(t, env, cookie)

	resp := env.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"Hello"}`, cookie)
	require.Equal(t, http.StatusOK, resp.Code)

	events, done := readEvents(t, resp.Body.String())
	assert.True(t, done)
	require.NotEmpty(t, events)
	assert.Equal(t, stream.StatusError, events[len(events)-1].Status)

	resp = env.do(t, http.MethodGet, "/api/chats/"+chat.ID, "", cookie)
	var unchanged store.Chat
	decodeJSONBody(t, resp, &unchanged)
	assert.Equal(t, "New Chat", unchanged.Name)
}

func TestSendMessageRejectsBeforeStreaming(t *testing.T) {
	env := newTestEnv(t, stubCompleter{deltas: []string{"ok"}}, nil)
	env.withAPIKey(t)
	cookie := env.signIn(t)
	chat := createChat(t, env, cookie)
	path := "/api/chats/" + chat.ID + "/messages"

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"empty content", path, `{"content":"   "}`, http.StatusBadRequest, "invalid_request"},
		{"missing content", path, `{"withWebSearch":true}`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", path, `{"content":"hi","stream":true}`, http.StatusBadRequest, "invalid_request"},
		{"unknown model", path, `{"content":"hi","modelId":"vendor/not-listed"}`, http.StatusBadRequest, "unknown_model"},
		{"unknown chat", "/api/chats/missing/messages", `{"content":"hi"}`, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tc.path, tc.body, cookie)
			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
			assert.Equal(t, tc.code, errorCode(t, resp))
		})
	}

	resp := env.do(t, http.MethodGet, path, "", cookie)
	var messages []store.Message
	decodeJSONBody(t, resp, &messages)
	assert.Empty(t, messages, "rejected turns save nothing")
}

func TestSendMessageRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, stubCompleter{deltas: []string{"ok"}}, nil)
	cookie := env.signIn(t)
	chat := createChat(t, env, cookie)

	resp := env.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/messages", `{"content":"hi"}`, cookie)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "api_key_missing", errorCode(t, resp))
}

func TestListMessagesUnknownChat(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)

	resp := env.do(t, http.MethodGet, "/api/chats/missing/messages", "", cookie)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
