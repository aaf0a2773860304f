package handlers

import (
	"net/http"
	"time"

	"dutydesk/live"

	jww "github.com/spf13/jwalterweatherman"
)

type EventsHandler struct {
	coordinator *live.Coordinator
	keepAlive   time.Duration
	maxLifetime time.Duration
}

func NewEventsHandler(coordinator *live.Coordinator, keepAlive, maxLifetime time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return &EventsHandler{coordinator: coordinator, keepAlive: keepAlive, maxLifetime: maxLifetime}
}

// Stream serves the push channel. Each frame is "data: <json>\n\n"; comment
// lines keep idle proxies from closing the connection.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		jww.DEBUG.Printf("🔌 Write deadline not adjustable: %v", err)
	}

	ctx := r.Context()
	client, err := h.coordinator.Subscribe(ctx, user)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer h.coordinator.Unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		jww.ERROR.Printf("❌ Streaming unsupported: %v", err)
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	var expired <-chan time.Time
	if h.maxLifetime > 0 {
		lifetime := time.NewTimer(h.maxLifetime)
		defer lifetime.Stop()
		expired = lifetime.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-expired:
			jww.DEBUG.Printf("🔌 Stream for %s reached its lifetime", user.Tag)
			return
		case frame := <-client.Messages():
			if _, err := w.Write(frame); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
