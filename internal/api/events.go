package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"identity-orchestrator/internal/models"
)

const keepAliveInterval = 15 * time.Second

// hub fans profile closed events out to SSE subscribers. Slow subscribers miss events rather than block exits.
type hub struct {
	mu     sync.Mutex
	subs   map[chan models.ProfileClosedEvent]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan models.ProfileClosedEvent]struct{})}
}

func (h *hub) subscribe() (chan models.ProfileClosedEvent, func()) {
	ch := make(chan models.ProfileClosedEvent, 16)

	h.mu.Lock()
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) publish(event models.ProfileClosedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close ends every open stream
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// handleEvents streams profileClosed events as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn().Err(err).Msg("Streaming unsupported")
		return
	}

	events, unsubscribe := s.events.subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: profileClosed\ndata: %s\n\n", data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
