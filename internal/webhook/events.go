package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/dingtalk-gw/internal/events"
)

// handleEvents handles GET /v1/events?since=N.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := parseEventID(r.URL.Query().Get("since"))
	s.respondJSON(w, http.StatusOK, EventsResponse{Events: s.events.SnapshotSince(since)})
}

// handleEventStream handles GET /v1/events/stream as server-sent events.
// Replay starts after Last-Event-ID, or after ?since=N when the header is absent.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	// The server's WriteTimeout would cut the stream; push the deadline out
	// before every write instead.
	rc := http.NewResponseController(w)
	extendDeadline := func() bool {
		err := rc.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		return err == nil || errors.Is(err, http.ErrNotSupported)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseEventID(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseEventID(r.URL.Query().Get("since"))
	}
	if !extendDeadline() {
		return
	}
	for _, ev := range s.events.SnapshotSince(lastID) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.stopping:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			if !extendDeadline() {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if !extendDeadline() {
				return
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s.%s\n", ev.Source, ev.Type); err != nil {
			return err
		}
	}
	// Payloads are compact single-line JSON.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
