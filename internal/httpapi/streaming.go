package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const sseHeartbeatInterval = 15 * time.Second

// authorizeStream checks the API key for a streaming request. EventSource
// cannot set headers, so the key may arrive as a token query param instead of
// the Authorization header.
func (s *Server) authorizeStream(w http.ResponseWriter, r *http.Request) bool {
	key := r.URL.Query().Get("token")
	if key == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			key = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if _, err := s.auth.Verify(key); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	return true
}

// threadID resolves the path id to a stream thread. Callers may pass either
// the job id or the thread id directly.
func (s *Server) threadID(r *http.Request) string {
	id := r.PathValue("id")
	if job, err := s.jobs.Get(r.Context(), id); err == nil && job.ThreadID != "" {
		return job.ThreadID
	}
	return id
}

// eventTypeFilter parses the optional comma-separated types query param.
func eventTypeFilter(r *http.Request) map[string]struct{} {
	filter := map[string]struct{}{}
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[t] = struct{}{}
			}
		}
	}
	return filter
}

// lastEventID reads the SSE resume position from the Last-Event-ID header or
// the last_event_id query param.
func lastEventID(r *http.Request) uint64 {
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			return n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// handleSSE streams research events via Server-Sent Events with replay from
// the ring buffer on reconnect.
// GET /stream/{id}
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeStream(w, r) {
		return
	}
	thread := s.threadID(r)
	typeFilter := eventTypeFilter(r)
	lastID := lastEventID(r)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.stream.Subscribe(thread, 256)
	defer s.stream.Unsubscribe(thread, ch)

	fmt.Fprintf(w, ": connected to %s\n\n", thread)
	flusher.Flush()

	// Replay backlog since lastID (best-effort). Sequences are 1-based, so
	// a fresh client with no Last-Event-ID replays the full ring.
	for _, ev := range s.stream.ReplaySince(thread, lastID) {
		if len(typeFilter) > 0 {
			if _, ok := typeFilter[ev.Type]; !ok {
				continue
			}
		}
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Marshal())
	}
	flusher.Flush()

	hb := time.NewTicker(sseHeartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", zap.String("thread_id", thread))
			return
		case evt := <-ch:
			if len(typeFilter) > 0 {
				if _, ok := typeFilter[evt.Type]; !ok {
					continue
				}
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, evt.Marshal())
			flusher.Flush()
		case <-hb.C:
			// Keep connections alive through proxies
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
