// Package controller implements the adaptive live-stream playback
// controller: the connection state machine that keeps one stream alive,
// close to the live edge, and self-healing across network glitches, encoder
// restarts and segment-loading failures.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/config"
	"github.com/camwatch/playback/internal/engine"
	"github.com/camwatch/playback/internal/health"
	"github.com/camwatch/playback/internal/liveedge"
	"github.com/camwatch/playback/internal/metrics"
	"github.com/camwatch/playback/internal/origin"
	"github.com/camwatch/playback/internal/retrypolicy"
	"github.com/camwatch/playback/internal/surface"
	"github.com/camwatch/playback/internal/types"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("controller already started")
	// ErrMissingEngine is returned when no engine factory is provided.
	ErrMissingEngine = errors.New("engine factory is required")
	// ErrMissingSurface is returned when no render surface is provided.
	ErrMissingSurface = errors.New("render surface is required")
)

// command is an imperative request posted into the run loop.
type command int

const (
	cmdStop command = iota
	cmdRetry
	cmdLock
	cmdUnlock
)

// Options carries the controller's collaborators and tuning.
type Options struct {
	// NewEngine builds a fresh decode engine. Called once at start and
	// again on every explicit retry after a fatal error.
	NewEngine func() engine.Engine
	// Surface is the render target playback is bound to.
	Surface surface.Surface
	// Origin is the optional origin client used for the
	// probe-before-start precondition.
	Origin *origin.Client
	// Tuning holds the playback heuristics.
	Tuning config.Tuning
	// Logger is the component logger; a discard logger is used if nil.
	Logger *logrus.Entry
	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
}

// Controller owns playback of exactly one stream source. A new source means
// a new controller; instances are fully independent of one another. All
// internal state lives on a single run-loop goroutine, so transitions never
// race: adapter events, timer callbacks and imperative commands are all
// serialized through the loop.
type Controller struct {
	source types.StreamSource
	tuning config.Tuning
	logger *logrus.Entry
	met    *metrics.Metrics
	orig   *origin.Client
	newEng func() engine.Engine
	surf   surface.Surface

	mu      sync.RWMutex
	status  types.Status
	started bool

	cmds    chan command
	timerCh chan timerEvent
	done    chan struct{}

	// Everything below is owned by the run loop.
	ctx      context.Context
	cancel   context.CancelFunc
	eng      *engine.Adapter
	events   <-chan engine.Event
	policy   *retrypolicy.Policy
	detector *health.Detector
	tracker  *liveedge.Tracker
	state    types.ConnectionState
	gen      uint64
	pending  map[timerKind]*time.Timer
	backoff  *backoff.ExponentialBackOff

	bufferedEnd      float64
	lastPos          float64
	posAtGrace       float64
	graceArmed       bool
	reconnectAttempt int
	mediaRecoveries  int
}

// New creates an idle controller for the given source.
func New(source types.StreamSource, opts Options) (*Controller, error) {
	if opts.NewEngine == nil {
		return nil, ErrMissingEngine
	}
	if opts.Surface == nil {
		return nil, ErrMissingSurface
	}

	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = logrus.NewEntry(l)
	}
	logger = logger.WithField("stream", source.DisplayName)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Tuning.ReconnectInitialDelay
	b.MaxInterval = opts.Tuning.ReconnectMaxDelay

	c := &Controller{
		source:  source,
		tuning:  opts.Tuning,
		logger:  logger,
		met:     opts.Metrics,
		orig:    opts.Origin,
		newEng:  opts.NewEngine,
		surf:    opts.Surface,
		cmds:    make(chan command),
		timerCh: make(chan timerEvent, 8),
		done:    make(chan struct{}),
		policy: retrypolicy.New(retrypolicy.Config{
			MaxAttempts: opts.Tuning.SilentMaxAttempts,
			RetryDelay:  opts.Tuning.SilentRetryDelay,
		}),
		tracker: liveedge.New(liveedge.Config{
			LiveThreshold:       opts.Tuning.LiveThresholdSeconds,
			AutoResyncThreshold: opts.Tuning.AutoResyncThresholdSeconds,
			SafetyOffset:        opts.Tuning.LiveSafetyOffsetSeconds,
		}),
		state:   types.StateIdle,
		pending: make(map[timerKind]*time.Timer),
		backoff: b,
	}
	c.detector = c.newDetector()
	c.status = types.Status{State: types.StateIdle, IsAtLiveEdge: true}
	return c, nil
}

func (c *Controller) newDetector() *health.Detector {
	return health.New(health.Config{
		Tolerance:    c.tuning.FreezeTolerance,
		FreezeWindow: c.tuning.FreezeWindow,
		ResyncDelay:  c.tuning.FreezeResyncDelay,
		HardLimit:    c.tuning.HardFreezeLimit,
	}, c.source.IsLiveHint)
}

// Source returns the immutable stream source.
func (c *Controller) Source() types.StreamSource {
	return c.source
}

// Start begins the connection sequence and the run loop. It is non-blocking
// and may be called once per controller.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setState(types.StateInitializing)
	go c.run()
	return nil
}

// Stop tears the controller down: timers cancelled, engine destroyed,
// surface left at rest. It is safe to call at any time, including more than
// once.
func (c *Controller) Stop() {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		c.setState(types.StateStopped)
		return
	}
	c.post(cmdStop)
}

// Retry requests an explicit restart after a fatal error. It is a no-op in
// any state other than Error.
func (c *Controller) Retry() {
	c.post(cmdRetry)
}

// LockToLive seeks to the live edge and suppresses the behind-live heuristic
// until Unlock.
func (c *Controller) LockToLive() {
	c.post(cmdLock)
}

// Unlock re-enables the behind-live heuristic.
func (c *Controller) Unlock() {
	c.post(cmdUnlock)
}

// Status returns the current controller snapshot.
func (c *Controller) Status() types.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Done is closed once the run loop has exited for good.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) post(cmd command) {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return
	}
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

// setState records a transition and publishes it to the status snapshot.
func (c *Controller) setState(s types.ConnectionState) {
	if c.state == s {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   s.String(),
	}).Info("Connection state changed")
	c.state = s
	c.met.IncTransition(s.String())

	c.mu.Lock()
	c.status.State = s
	if s == types.StateConnected {
		c.status.LastError = nil
	}
	c.mu.Unlock()
}

// setError publishes a surfaced error record.
func (c *Controller) setError(rec types.ErrorRecord) {
	c.logger.WithFields(logrus.Fields{
		"category": string(rec.Category),
		"detail":   rec.Detail,
		"attempt":  rec.Attempt,
	}).Error("Playback error surfaced")

	c.mu.Lock()
	c.status.LastError = &rec
	c.mu.Unlock()
}

// publishLiveEdge copies the tracker's view into the status snapshot.
func (c *Controller) publishLiveEdge() {
	le := c.tracker.Status()
	c.mu.Lock()
	c.status.BehindLiveSeconds = le.BehindLiveSeconds
	c.status.IsAtLiveEdge = le.IsAtLiveEdge
	c.status.LockedToLive = le.LockedToLive
	c.mu.Unlock()
	c.met.SetBehindLive(c.source.DisplayName, le.BehindLiveSeconds)
}
