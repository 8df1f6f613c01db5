package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/civickit/k311/internal/lang"
	"github.com/civickit/k311/internal/pipeline"
)

const maxBodyBytes = 1 << 20 // 1MB

type queryRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k"`
	Language  string `json:"language"`
	SessionID string `json:"session_id"`
}

func (q queryRequest) validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return errors.New("query is required")
	}
	if q.TopK < 0 || q.TopK > 20 {
		return errors.New("top_k must be between 0 and 20")
	}
	switch lang.Lang(q.Language) {
	case "", lang.Auto, lang.English, lang.French:
	default:
		return errors.New("language must be en, fr, or auto")
	}
	return nil
}

func (q queryRequest) toPipeline() pipeline.Request {
	sessionID := q.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return pipeline.Request{
		Query:     strings.TrimSpace(q.Query),
		TopK:      q.TopK,
		Language:  lang.Lang(q.Language),
		SessionID: sessionID,
	}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return queryRequest{}, false
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return queryRequest{}, false
	}
	return req, true
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "kingston-311",
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "healthy"}

	if s.health != nil {
		count, err := s.health.Count(r.Context())
		if err != nil {
			s.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  "knowledge base unreachable",
			})
			return
		}
		body["documents"] = count
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	resp, err := s.pipe.Answer(r.Context(), req.toPipeline())
	if err != nil {
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to answer query")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	err = s.pipe.Stream(r.Context(), req.toPipeline(), sse.emit)
	if err != nil {
		// Headers are already sent; the error goes down the stream.
		s.logger.Error("stream failed", "error", err)
		_ = sse.emit(pipeline.Event{Type: "error", Content: "stream failed"})
	}
}
