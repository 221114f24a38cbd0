package turn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightchat/backend/internal/config"
	"lightchat/backend/internal/openrouter"
	"lightchat/backend/internal/stream"
)

type apiKeys map[string]string

func (k apiKeys) Get(key string) string { return k[key] }

func writeDelta(w http.ResponseWriter, delta string) {
	payload, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": delta}}},
	})
	_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
}

func TestRetriedAttemptReplacesPartialPreview(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if calls.Add(1) == 1 {
			writeDelta(w, "Hello wor")
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		writeDelta(w, "Hello")
		writeDelta(w, " world.")
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := openrouter.NewClient(config.Config{
		OpenRouterBaseURL:  server.URL,
		UpstreamTimeout:    5 * time.Second,
		UpstreamMaxRetries: 2,
	}, apiKeys{config.KeyOpenRouterAPIKey: "test-key"}, nil,
		openrouter.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	st := newFakeStore()
	chat := st.addChat(testModel)
	orch := New(st, client, &fakeSearcher{}, Config{})

	pending, err := orch.Begin(context.Background(), Turn{ChatID: chat.ID, Content: "hi"})
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, orch.Run(context.Background(), pending, sink))

	assert.EqualValues(t, 2, calls.Load())
	contents := sink.withStatus(stream.StatusContent)
	require.NotEmpty(t, contents)
	assert.Equal(t, "Hello wor", contents[0].Chunk)
	assert.Equal(t, "Hello world.", contents[len(contents)-1].Chunk)
	for _, event := range contents[1:] {
		assert.NotContains(t, event.Chunk, "Hello worHello")
	}

	saved := st.assistantMessages(chat.ID)
	require.Len(t, saved, 1)
	assert.Equal(t, "Hello world.", saved[0].Content)
	assert.Equal(t, []string{"Hello world."}, st.renames)
	assert.True(t, sink.done)
}
