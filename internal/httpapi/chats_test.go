package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/backend/internal/store"
)

func TestChatLifecycle(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)
	defaultModel := env.handler.models.Default().ID

	resp := env.do(t, http.MethodPost, "/api/chats", `{"name":"  First   Chat  "}`, cookie)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created store.Chat
	decodeJSONBody(t, resp, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "First Chat", created.Name)
	assert.Equal(t, defaultModel, created.ModelID)

	resp = env.do(t, http.MethodGet, "/api/chats", "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var listed []store.Chat
	decodeJSONBody(t, resp, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	resp = env.do(t, http.MethodGet, "/api/chats/"+created.ID, "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var fetched store.Chat
	decodeJSONBody(t, resp, &fetched)
	assert.Equal(t, "First Chat", fetched.Name)

	resp = env.do(t, http.MethodPatch, "/api/chats/"+created.ID, `{"name":"Renamed"}`, cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var renamed store.Chat
	decodeJSONBody(t, resp, &renamed)
	assert.Equal(t, "Renamed", renamed.Name)
	assert.Equal(t, defaultModel, renamed.ModelID)

	resp = env.do(t, http.MethodDelete, "/api/chats/"+created.ID, "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var deleted map[string]bool
	decodeJSONBody(t, resp, &deleted)
	assert.True(t, deleted["success"])

	resp = env.do(t, http.MethodGet, "/api/chats/"+created.ID, "", cookie)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.do(t, http.MethodDelete, "/api/chats/"+created.ID, "", cookie)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListChatsNewestFirst(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)

	for _, name := range []string{"one", "two", "three"} {
		resp := env.do(t, http.MethodPost, "/api/chats", `{"name":"`+name+`"}`, cookie)
		require.Equal(t, http.StatusCreated, resp.Code)
	}

	resp := env.do(t, http.MethodGet, "/api/chats", "", cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var listed []store.Chat
	decodeJSONBody(t, resp, &listed)
	require.Len(t, listed, 3)
	assert.Equal(t, []string{"three", "two", "one"}, []string{listed[0].Name, listed[1].Name, listed[2].Name})
}

func TestCreateChatValidation(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)

	cases := map[string]string{
		"missing name":  `{"modelId":"x"}`,
		"blank name":    `{"name":"   "}`,
		"unknown field": `{"name":"chat","title":"x"}`,
		"two objects":   `{"name":"a"}{"name":"b"}`,
		"not json":      `name=chat`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/chats", body, cookie)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, "invalid_request", errorCode(t, resp))
		})
	}
}

func TestCreateChatResolvesUnknownModelToDefault(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)

	resp := env.do(t, http.MethodPost, "/api/chats", `{"name":"chat","modelId":"vendor/not-listed"}`, cookie)
	require.Equal(t, http.StatusCreated, resp.Code)
	var created store.Chat
	decodeJSONBody(t, resp, &created)
	assert.Equal(t, env.handler.models.Default().ID, created.ModelID)
}

func TestUpdateChatValidation(t *testing.T) {
	env := newTestEnv(t, stubCompleter{}, nil)
	cookie := env.signIn(t)

	resp := env.do(t, http.MethodPost, "/api/chats", `{"name":"chat"}`, cookie)
	require.Equal(t, http.StatusCreated, resp.Code)
	var created store.Chat
	decodeJSONBody(t, resp, &created)

	resp = env.do(t, http.MethodPatch, "/api/chats/"+created.ID, `{}`, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPatch, "/api/chats/"+created.ID, `{"name":"  "}`, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPatch, "/api/chats/"+created.ID, `{"modelId":"vendor/not-listed"}`, cookie)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "unknown_model", errorCode(t, resp))

	models := env.handler.models.Models()
	target := models[len(models)-1].ID
	resp = env.do(t, http.MethodPatch, "/api/chats/"+created.ID, `{"modelId":"`+target+`"}`, cookie)
	require.Equal(t, http.StatusOK, resp.Code)
	var updated store.Chat
	decodeJSONBody(t, resp, &updated)
	assert.Equal(t, target, updated.ModelID)
	assert.Equal(t, "chat", updated.Name)

	resp = env.do(t, http.MethodPatch, "/api/chats/missing", `{"name":"x"}`, cookie)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
