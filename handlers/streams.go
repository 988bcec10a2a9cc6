// Package handlers contains HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/internal/manager"
	"github.com/camwatch/playback/internal/types"
)

// StreamsHandler exposes playback session management over REST.
type StreamsHandler struct {
	manager *manager.Manager
	logger  *logrus.Logger
}

// NewStreamsHandler creates a streams handler.
func NewStreamsHandler(m *manager.Manager, logger *logrus.Logger) *StreamsHandler {
	return &StreamsHandler{manager: m, logger: logger}
}

// Register mounts the stream routes on the router.
func (h *StreamsHandler) Register(r chi.Router) {
	r.Get("/api/streams", h.list)
	r.Post("/api/streams", h.create)
	r.Get("/api/streams/{id}", h.get)
	r.Delete("/api/streams/{id}", h.remove)
	r.Post("/api/streams/{id}/retry", h.retry)
	r.Post("/api/streams/{id}/lock", h.lock)
	r.Post("/api/streams/{id}/unlock", h.unlock)
}

// createRequest is the body for POST /api/streams.
type createRequest struct {
	URI         string `json:"uri"`
	DisplayName string `json:"display_name"`
	IsLive      bool   `json:"is_live"`
}

func (h *StreamsHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.List())
}

func (h *StreamsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.URI == "" {
		http.Error(w, "Missing stream URI", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.URI
	}

	source := types.StreamSource{
		URI:         req.URI,
		DisplayName: req.DisplayName,
		IsLiveHint:  req.IsLive,
	}

	id, err := h.manager.Create(r.Context(), source)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create playback session")
		http.Error(w, "Failed to create playback session", http.StatusInternalServerError)
		return
	}

	info, err := h.manager.Info(id)
	if err != nil {
		http.Error(w, "Failed to create playback session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *StreamsHandler) get(w http.ResponseWriter, r *http.Request) {
	info, err := h.manager.Info(chi.URLParam(r, "id"))
	if err != nil {
		notFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *StreamsHandler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Remove(chi.URLParam(r, "id")); err != nil {
		notFound(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StreamsHandler) retry(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(c controllerActions) { c.Retry() })
}

func (h *StreamsHandler) lock(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(c controllerActions) { c.LockToLive() })
}

func (h *StreamsHandler) unlock(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(c controllerActions) { c.Unlock() })
}

// controllerActions is the slice of the controller surface the action
// endpoints use.
type controllerActions interface {
	Retry()
	LockToLive()
	Unlock()
	Status() types.Status
}

func (h *StreamsHandler) action(w http.ResponseWriter, r *http.Request, fn func(controllerActions)) {
	id := chi.URLParam(r, "id")
	ctrl, err := h.manager.Get(id)
	if err != nil {
		notFound(w, err)
		return
	}
	fn(ctrl)
	writeJSON(w, http.StatusOK, ctrl.Status())
}

func notFound(w http.ResponseWriter, err error) {
	if errors.Is(err, manager.ErrNotFound) {
		http.Error(w, "Stream session not found", http.StatusNotFound)
		return
	}
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
