// Package hls implements the decode engine contract over plain HTTP: it
// polls a segmented-streaming playlist, fetches new segments as they appear
// and reports buffered ranges. It performs no retry, health or live-edge
// logic; the playback controller owns all of that.
package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/internal/engine"
	"github.com/camwatch/playback/internal/surface"
	"github.com/camwatch/playback/internal/types"
)

var (
	// ErrUnexpectedStatus is returned when the HTTP response has an
	// unexpected status code.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrEmptyMaster is returned when a master playlist lists no variants.
	ErrEmptyMaster = errors.New("master playlist has no variants")
	// ErrNestedMaster is returned when master playlists point at further
	// master playlists past the indirection limit.
	ErrNestedMaster = errors.New("master playlist nesting too deep")
)

// maxMasterDepth bounds master playlist indirection so a master that points
// at itself (or a chain of masters) cannot recurse unbounded.
const maxMasterDepth = 2

// Config holds the engine's transport settings.
type Config struct {
	// PollInterval is the playlist poll cadence.
	PollInterval time.Duration
	// HTTPTimeout bounds every playlist and segment request.
	HTTPTimeout time.Duration
}

// Engine polls an HLS origin. One Load at a time: a new Load cancels the
// previous poll. Failures stop the poll and are reported as a single error
// event; the controller decides whether to re-issue the load.
type Engine struct {
	cfg    Config
	logger *logrus.Entry
	client *http.Client
	events chan engine.Event

	mu        sync.Mutex
	surf      surface.Surface
	cancel    context.CancelFunc
	pollDone  chan struct{}
	destroyed bool

	once sync.Once

	// Poll state carried across Load calls of this instance.
	bufferedEnd  float64
	lastSeq      uint64
	haveSeq      bool
	manifestSeen bool
}

// New creates an HLS engine.
func New(cfg Config, logger *logrus.Entry) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		events: make(chan engine.Event, 32),
	}
}

// Load starts polling the source playlist. Only one poll runs at a time: a
// new Load cancels the previous poll and waits for it to exit, so the poll
// state is never touched by two goroutines.
func (e *Engine) Load(ctx context.Context, src types.StreamSource) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	prev := e.pollDone
	e.mu.Unlock()

	if prev != nil {
		<-prev
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.pollDone = done
	e.mu.Unlock()

	go e.poll(pollCtx, src, done)
}

// AttachSurface binds the surface segments get appended to.
func (e *Engine) AttachSurface(s surface.Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.surf = s
}

// Recover is a no-op for the HTTP transport: there is no decoder state to
// rebuild, so recovery always succeeds.
func (e *Engine) Recover() error {
	return nil
}

// Destroy cancels any running poll, waits for it to finish and closes the
// event stream. It is idempotent.
func (e *Engine) Destroy() {
	e.once.Do(func() {
		e.mu.Lock()
		e.destroyed = true
		if e.cancel != nil {
			e.cancel()
		}
		done := e.pollDone
		e.mu.Unlock()
		if done != nil {
			<-done
		}
		close(e.events)
	})
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan engine.Event {
	return e.events
}

func (e *Engine) poll(ctx context.Context, src types.StreamSource, done chan struct{}) {
	defer close(done)

	for {
		pl, err := e.fetchPlaylist(ctx, src.URI)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.emit(ctx, e.errorEvent(err))
			return
		}

		if !e.manifestSeen {
			e.manifestSeen = true
			e.emit(ctx, engine.Event{Kind: engine.EventManifestReady})
		}

		ended, err := e.consumeSegments(ctx, src.URI, pl)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.emit(ctx, e.errorEvent(err))
			return
		}
		if ended {
			e.emit(ctx, engine.Event{Kind: engine.EventEndOfStream})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// fetchPlaylist loads and parses the playlist, following master playlist
// indirection to its first variant up to maxMasterDepth levels.
func (e *Engine) fetchPlaylist(ctx context.Context, uri string) (*m3u8.MediaPlaylist, error) {
	return e.fetchPlaylistAt(ctx, uri, 0)
}

func (e *Engine) fetchPlaylistAt(ctx context.Context, uri string, depth int) (*m3u8.MediaPlaylist, error) {
	body, err := e.get(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = body.Close()
	}()

	pl, kind, err := m3u8.DecodeFrom(body, false)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	switch kind {
	case m3u8.MEDIA:
		return pl.(*m3u8.MediaPlaylist), nil
	case m3u8.MASTER:
		if depth >= maxMasterDepth {
			return nil, ErrNestedMaster
		}
		master := pl.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 {
			return nil, ErrEmptyMaster
		}
		variant, err := resolveURL(uri, master.Variants[0].URI)
		if err != nil {
			return nil, err
		}
		return e.fetchPlaylistAt(ctx, variant, depth+1)
	default:
		return nil, fmt.Errorf("failed to parse playlist: unknown list type")
	}
}

// consumeSegments fetches every segment newer than the last one seen,
// appends its duration to the buffered range and emits the decode events.
func (e *Engine) consumeSegments(ctx context.Context, playlistURL string, pl *m3u8.MediaPlaylist) (ended bool, err error) {
	for _, seg := range pl.Segments {
		if seg == nil {
			continue
		}
		if e.haveSeq && seg.SeqId <= e.lastSeq {
			continue
		}

		segURL, err := resolveURL(playlistURL, seg.URI)
		if err != nil {
			return false, err
		}
		body, err := e.get(ctx, segURL)
		if err != nil {
			return false, err
		}
		_, err = io.Copy(io.Discard, body)
		_ = body.Close()
		if err != nil {
			return false, fmt.Errorf("failed to read segment: %w", err)
		}

		e.lastSeq = seg.SeqId
		e.haveSeq = true
		e.bufferedEnd += seg.Duration
		e.appendToSurface(e.bufferedEnd)

		e.emit(ctx, engine.Event{Kind: engine.EventSegmentLoaded, BufferedEnd: e.bufferedEnd})
		e.emit(ctx, engine.Event{Kind: engine.EventBufferAppended, BufferedEnd: e.bufferedEnd})

		e.logger.WithFields(logrus.Fields{
			"seq":          e.lastSeq,
			"buffered_end": e.bufferedEnd,
		}).Debug("Segment loaded")
	}

	return pl.Closed, nil
}

func (e *Engine) appendToSurface(end float64) {
	e.mu.Lock()
	surf := e.surf
	e.mu.Unlock()
	if surf != nil {
		surf.SetBufferedEnd(end)
	}
}

func (e *Engine) get(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, uri)
	}
	return resp.Body, nil
}

// errorEvent classifies a transport failure. Before the first manifest the
// origin may simply not be serving yet, which is a manifest-category error
// absorbed by the controller's silent window; afterwards it is a network
// error.
func (e *Engine) errorEvent(err error) engine.Event {
	category := types.CategoryNetwork
	if !e.manifestSeen {
		category = types.CategoryManifest
	}
	return engine.Event{
		Kind:     engine.EventError,
		Category: category,
		Detail:   err.Error(),
	}
}

func (e *Engine) emit(ctx context.Context, ev engine.Event) {
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u, err := b.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid segment URL: %w", err)
	}
	return u.String(), nil
}
