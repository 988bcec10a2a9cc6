package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/internal/manager"
)

// EventsHandler streams status snapshots for one playback session over a
// websocket, one frame per sampling-rate tick plus a final frame when the
// session ends.
type EventsHandler struct {
	manager  *manager.Manager
	logger   *logrus.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewEventsHandler creates a status feed handler pushing at the given
// interval.
func NewEventsHandler(m *manager.Manager, interval time.Duration, logger *logrus.Logger) *EventsHandler {
	return &EventsHandler{
		manager:  m,
		logger:   logger,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Register mounts the event feed route on the router.
func (h *EventsHandler) Register(r chi.Router) {
	r.Get("/api/streams/{id}/events", h.serve)
}

func (h *EventsHandler) serve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctrl, err := h.manager.Get(id)
	if err != nil {
		notFound(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// Discard client frames but notice the connection closing.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := conn.WriteJSON(ctrl.Status()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ctrl.Done():
			_ = conn.WriteJSON(ctrl.Status())
			return
		case <-ticker.C:
			if err := conn.WriteJSON(ctrl.Status()); err != nil {
				return
			}
		}
	}
}
