package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/civickit/k311/internal/pipeline"
)

// sseWriter emits pipeline events as data-only server-sent events, flushing
// after every event so tokens reach the client as they are generated.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("api: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) emit(ev pipeline.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("api: marshaling event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("api: writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
