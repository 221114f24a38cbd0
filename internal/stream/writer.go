package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var (
	ErrClosed               = errors.New("event stream is closed")
	ErrStreamingUnsupported = errors.New("response writer does not support streaming")
)

type Status string

const (
	StatusSearchStarted   Status = "search_started"
	StatusAnalyzing       Status = "analyzing"
	StatusThinkingStarted Status = "thinking_started"
	StatusThinkingProcess Status = "thinking_process"
	StatusContent         Status = "content"
	StatusError           Status = "error"
)

// Event is one SSE payload. Chunk always carries the full accumulated text
// for content and thinking_process events.
type Event struct {
	Status     Status `json:"status"`
	Chunk      string `json:"chunk,omitempty"`
	IsComplete *bool  `json:"isComplete,omitempty"`
}

func Content(accumulated string) Event {
	return Event{Status: StatusContent, Chunk: accumulated}
}

func Thinking(accumulated string, complete bool) Event {
	return Event{Status: StatusThinkingProcess, Chunk: accumulated, IsComplete: &complete}
}

func Error(message string) Event {
	return Event{Status: StatusError, Chunk: message}
}

func Marker(status Status) Event {
	return Event{Status: status}
}

// Writer serializes events onto one text/event-stream response. After the
// first write failure or once the request context ends, every later call
// returns ErrClosed.
type Writer struct {
	mu      sync.Mutex
	ctx     context.Context
	out     io.Writer
	flusher http.Flusher
	closed  bool
}

// NewWriter sets the stream headers on w and commits the 200 status.
func NewWriter(ctx context.Context, w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{ctx: ctx, out: w, flusher: flusher}, nil
}

func (w *Writer) Send(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.write(payload)
}

// Done writes the terminal [DONE] marker and closes the writer.
func (w *Writer) Done() error {
	err := w.write([]byte("[DONE]"))
	w.Close()
	return err
}

// Close stops the stream without a [DONE] marker.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Writer) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.ctx.Err() != nil {
		w.closed = true
		return ErrClosed
	}

	if _, err := fmt.Fprintf(w.out, "data: %s\n\n", data); err != nil {
		w.closed = true
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	w.flusher.Flush()
	return nil
}
