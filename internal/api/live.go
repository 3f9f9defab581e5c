package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/123zcr/traceboard/internal/live"
)

// LiveHandler streams metrics updates over server-sent events. Each frame is
// one JSON message; heartbeats keep idle connections alive through proxies.
// A client that falls behind is disconnected and is expected to reconnect or
// fall back to polling /api/metrics.
func LiveHandler(broadcaster *live.Broadcaster) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if broadcaster == nil {
			writeError(w, http.StatusServiceUnavailable, "live updates are not configured")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming is not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		subscriber := broadcaster.Subscribe()
		defer subscriber.Close()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-subscriber.Events():
				if !ok {
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
