package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// handleStream replays a session's backlog and follows it live as
// Server-Sent Events. The connection closes after the terminal event. A
// client that reconnects within the retention grace period gets the full
// retained stream again.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, errStreamUnsupported.Error(), http.StatusInternalServerError)
		return
	}

	sess, ok := s.deps.Bus.Get(r.PathValue("chat_id"))
	if !ok {
		writeError(w, schema.NewError(schema.ErrCodeNotFound, "unknown or expired session"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := sess.Subscribe(r.Context())
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()
		}
	}
}
