package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFramesEventsAndDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(context.Background(), rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(Marker(StatusSearchStarted)))
	require.NoError(t, w.Send(Content("Hel")))
	require.NoError(t, w.Send(Thinking("plan", false)))
	require.NoError(t, w.Send(Thinking("plan done", true)))
	require.NoError(t, w.Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		`data: {"status":"search_started"}`+"\n\n"+
			`data: {"status":"content","chunk":"Hel"}`+"\n\n"+
			`data: {"status":"thinking_process","chunk":"plan","isComplete":false}`+"\n\n"+
			`data: {"status":"thinking_process","chunk":"plan done","isComplete":true}`+"\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())
}

func TestWriterSuppressesWritesAfterDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(context.Background(), rec)
	require.NoError(t, err)

	require.NoError(t, w.Done())
	assert.ErrorIs(t, w.Send(Content("late")), ErrClosed)
	assert.ErrorIs(t, w.Done(), ErrClosed)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"))
}

func TestWriterCloseSkipsDone(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(context.Background(), rec)
	require.NoError(t, err)

	require.NoError(t, w.Send(Content("partial")))
	w.Close()
	assert.True(t, w.Closed())
	assert.ErrorIs(t, w.Done(), ErrClosed)
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestWriterStopsAfterContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	w, err := NewWriter(ctx, rec)
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, w.Send(Content("x")), ErrClosed)
	assert.True(t, w.Closed())
	assert.Empty(t, rec.Body.String())
}

type brokenWriter struct {
	header http.Header
	writes int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(int)     {}
func (b *brokenWriter) Flush()              {}

func (b *brokenWriter) Write([]byte) (int, error) {
	b.writes++
	return 0, errors.New("broken pipe")
}

func TestWriterClosesOnWriteError(t *testing.T) {
	out := &brokenWriter{header: http.Header{}}
	w, err := NewWriter(context.Background(), out)
	require.NoError(t, err)

	assert.ErrorIs(t, w.Send(Content("a")), ErrClosed)
	assert.ErrorIs(t, w.Send(Content("b")), ErrClosed)
	assert.Equal(t, 1, out.writes, "no writes after the first failure")
}

type plainWriter struct{ http.ResponseWriter }

func TestNewWriterRequiresFlusher(t *testing.T) {
	_, err := NewWriter(context.Background(), plainWriter{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestWriterConcurrentSendsStayFramed(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(context.Background(), rec)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Send(Content("chunk"))
		}()
	}
	wg.Wait()

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 20)
	for _, frame := range frames {
		assert.Equal(t, `data: {"status":"content","chunk":"chunk"}`, frame)
	}
}
