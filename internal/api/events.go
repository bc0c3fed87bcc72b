package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// eventsHandler streams one tab's UI messages as SSE. A tab has at most one
// subscriber: connecting replaces the previous stream, whose channel the
// router closes.
func eventsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		tabID := r.URL.Query().Get("tab_id")
		if tabID == "" {
			http.Error(w, "tab_id query parameter is required", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := svc.Subscribe(tabID)
		defer svc.Unsubscribe(tabID, id)

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					// Replaced by a newer subscriber, or the tab expired.
					return
				}
				payload, err := json.Marshal(msg)
				if err != nil {
					slog.Debug("event payload marshal failed", "action", msg.Action, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Action, payload)
				flusher.Flush()
			}
		}
	}
}
