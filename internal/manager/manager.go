// Package manager owns the set of live playback controllers, one per stream
// view. Controllers are created and destroyed here per explicit request;
// there is no process-wide registry keyed by device names and instances
// never share mutable state.
package manager

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/config"
	"github.com/camwatch/playback/internal/controller"
	"github.com/camwatch/playback/internal/engine"
	"github.com/camwatch/playback/internal/engine/hls"
	"github.com/camwatch/playback/internal/metrics"
	"github.com/camwatch/playback/internal/origin"
	"github.com/camwatch/playback/internal/surface"
	"github.com/camwatch/playback/internal/types"
)

// ErrNotFound is returned when no controller exists for a session ID.
var ErrNotFound = errors.New("stream session not found")

// StreamInfo describes one managed playback session.
type StreamInfo struct {
	ID     string             `json:"id"`
	Source types.StreamSource `json:"source"`
	Status types.Status       `json:"status"`
}

// Manager creates, tracks and tears down playback controllers.
type Manager struct {
	tuning  config.Tuning
	logger  *logrus.Logger
	met     *metrics.Metrics
	origin  *origin.Client
	newEng  func() engine.Engine
	newSurf func() surface.Surface

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	id     string
	source types.StreamSource
	ctrl   *controller.Controller
}

// Option configures a Manager.
type Option func(*Manager)

// WithEngineFactory overrides the decode engine factory (used in tests).
func WithEngineFactory(f func() engine.Engine) Option {
	return func(m *Manager) {
		m.newEng = f
	}
}

// WithSurfaceFactory overrides the render surface factory (used in tests).
func WithSurfaceFactory(f func() surface.Surface) Option {
	return func(m *Manager) {
		m.newSurf = f
	}
}

// New creates a manager. The default engine factory builds HLS polling
// engines; the default surface factory builds software playheads.
func New(cfg *config.Config, logger *logrus.Logger, met *metrics.Metrics, opts ...Option) *Manager {
	m := &Manager{
		tuning:  cfg.Tuning,
		logger:  logger,
		met:     met,
		entries: make(map[string]*entry),
	}

	if cfg.OriginAPIURL != "" {
		m.origin = origin.NewClient(cfg.OriginAPIURL, logger.WithField("component", "origin"))
	}

	m.newEng = func() engine.Engine {
		return hls.New(hls.Config{
			PollInterval: cfg.Tuning.PollInterval,
		}, logger.WithField("component", "hls"))
	}
	m.newSurf = func() surface.Surface {
		p := surface.NewPlayhead()
		p.Play()
		return p
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds a controller for the source, starts it and returns the new
// session ID.
func (m *Manager) Create(ctx context.Context, source types.StreamSource) (string, error) {
	id := uuid.NewString()

	ctrl, err := controller.New(source, controller.Options{
		NewEngine: m.newEng,
		Surface:   m.newSurf(),
		Origin:    m.origin,
		Tuning:    m.tuning,
		Logger:    m.logger.WithField("session", id),
		Metrics:   m.met,
	})
	if err != nil {
		return "", err
	}
	if err := ctrl.Start(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.entries[id] = &entry{id: id, source: source, ctrl: ctrl}
	active := len(m.entries)
	m.mu.Unlock()
	m.met.SetActiveControllers(active)

	m.logger.WithFields(logrus.Fields{
		"session": id,
		"uri":     source.URI,
		"name":    source.DisplayName,
	}).Info("Playback session created")
	return id, nil
}

// Get returns the controller for a session ID.
func (m *Manager) Get(id string) (*controller.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.ctrl, nil
}

// Info returns the info snapshot for one session.
func (m *Manager) Info(id string) (StreamInfo, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return StreamInfo{}, ErrNotFound
	}
	return StreamInfo{ID: e.id, Source: e.source, Status: e.ctrl.Status()}, nil
}

// List returns info snapshots for all sessions.
func (m *Manager) List() []StreamInfo {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	infos := make([]StreamInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, StreamInfo{ID: e.id, Source: e.source, Status: e.ctrl.Status()})
	}
	return infos
}

// Remove stops a session's controller and forgets it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	active := len(m.entries)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.ctrl.Stop()
	<-e.ctrl.Done()
	m.met.DropStream(e.source.DisplayName)
	m.met.SetActiveControllers(active)

	m.logger.WithField("session", id).Info("Playback session removed")
	return nil
}

// Shutdown stops every controller and waits for each to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.ctrl.Stop()
		<-e.ctrl.Done()
		m.met.DropStream(e.source.DisplayName)
	}
	m.met.SetActiveControllers(0)
}
