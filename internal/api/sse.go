package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// handleSSE streams bus events as Server-Sent Events. ?types= narrows the
// stream to a comma separated list of event types.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	bus := s.engine.Events()
	if bus == nil {
		respondError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	ch := bus.Subscribe(types...)
	defer bus.Unsubscribe(ch)

	ctx := r.Context()
	s.logger.Debug("SSE client connected", "remote_addr", r.RemoteAddr, "types", types)
	s.sendSSEEvent(w, flusher, "connected", map[string]string{"status": "connected"})

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", "remote_addr", r.RemoteAddr)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.sendSSEEvent(w, flusher, ev.EventType(), ev)
		}
	}
}

// sendSSEEvent writes one event in SSE framing.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "type", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
