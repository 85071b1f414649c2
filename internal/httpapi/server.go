package httpapi

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/auth"
	"github.com/inquirylab/fathom/internal/jobs"
	"github.com/inquirylab/fathom/internal/metrics"
	"github.com/inquirylab/fathom/internal/streaming"
)

// Server exposes the research job API. Authenticated routes go through the
// auth middleware; streaming routes authenticate via query token because
// EventSource cannot set headers.
type Server struct {
	jobs   *jobs.Manager
	stream *streaming.Manager
	auth   *auth.Service
	tokens *auth.ResumeTokens
	logger *zap.Logger
}

func NewServer(jobMgr *jobs.Manager, stream *streaming.Manager, authSvc *auth.Service, tokens *auth.ResumeTokens, logger *zap.Logger) *Server {
	return &Server{
		jobs:   jobMgr,
		stream: stream,
		auth:   authSvc,
		tokens: tokens,
		logger: logger,
	}
}

// Routes builds the full handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/research", s.instrument("research_create", s.handleCreate))
	api.HandleFunc("POST /api/v1/research/sync", s.instrument("research_sync", s.handleCreateSync))
	api.HandleFunc("GET /api/v1/research", s.instrument("research_list", s.handleList))
	api.HandleFunc("GET /api/v1/research/{id}", s.instrument("research_get", s.handleGet))
	api.HandleFunc("GET /api/v1/research/{id}/result", s.instrument("research_result", s.handleResult))
	api.HandleFunc("DELETE /api/v1/research/{id}", s.instrument("research_delete", s.handleDelete))
	api.HandleFunc("POST /api/v1/research/{id}/feedback", s.instrument("research_feedback", s.handleFeedback))
	api.HandleFunc("POST /api/v1/quickresearch", s.instrument("quickresearch", s.handleQuickResearch))
	mux.Handle("/api/v1/", s.auth.Middleware(api))

	mux.HandleFunc("GET /stream/{id}", s.instrument("stream_sse", s.handleSSE))
	mux.HandleFunc("GET /ws/{id}", s.instrument("stream_ws", s.handleWS))

	return mux
}

// instrument records request counts by route and response code.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE still works behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so the WebSocket upgrade still works behind the
// recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
