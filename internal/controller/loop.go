package controller

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/internal/engine"
	"github.com/camwatch/playback/internal/health"
	"github.com/camwatch/playback/internal/retrypolicy"
	"github.com/camwatch/playback/internal/types"
)

// positionEpsilon is the smallest position delta that counts as progress
// when comparing consecutive samples.
const positionEpsilon = 1e-6

// run is the controller's single event loop. Every state transition happens
// here, in reaction to adapter events, timer callbacks or commands, never
// concurrently with another.
func (c *Controller) run() {
	defer close(c.done)

	c.connect()

	// The two per-instance timers: the buffer-health sampler and the
	// freeze checker. Both stop when the loop exits, before any teardown
	// completes.
	sampleTicker := time.NewTicker(c.tuning.SampleInterval)
	defer sampleTicker.Stop()
	freezeTicker := time.NewTicker(c.tuning.FreezeCheckInterval)
	defer freezeTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return

		case cmd := <-c.cmds:
			if stop := c.handleCommand(cmd); stop {
				return
			}

		case ev, ok := <-c.events:
			if !ok {
				// Engine stream closed (destroyed or ended);
				// stop selecting on it until a new engine is
				// attached.
				c.events = nil
				continue
			}
			c.handleEngineEvent(ev)

		case te := <-c.timerCh:
			if te.gen != c.gen {
				// Stale timer from a previous generation.
				continue
			}
			c.handleTimer(te.kind)

		case <-sampleTicker.C:
			c.onSampleTick()

		case <-freezeTicker.C:
			c.onFreezeTick()
		}
	}
}

// connect runs the connection sequence: origin precondition, fresh engine,
// first load. Used at start and again on explicit retry.
func (c *Controller) connect() {
	c.ensureOrigin()
	c.rebuildEngine()
	c.setState(types.StateConnecting)
	c.eng.Load(c.ctx, c.source)
}

// rebuildEngine replaces the current engine instance with a fresh one. An
// encoder restart can reset segment sequence numbering, so a reconnect must
// not reuse an engine that remembers the old sequence state.
func (c *Controller) rebuildEngine() {
	if c.eng != nil {
		c.eng.Destroy()
	}
	c.eng = engine.NewAdapter(c.newEng(), c.logger)
	c.eng.AttachSurface(c.surf)
	c.events = c.eng.Events()
}

// ensureOrigin probes the playlist and, when the origin is not serving it
// yet, asks the management API to start the stream. Failures here are not
// fatal: the silent retry window absorbs an origin that is still starting.
func (c *Controller) ensureOrigin() {
	if c.orig == nil {
		return
	}

	exists, err := c.orig.Probe(c.ctx, c.source.URI)
	if err != nil {
		c.logger.WithError(err).Debug("Origin probe failed; proceeding to load")
		return
	}
	if exists || !c.orig.HasAPI() {
		return
	}

	if err := c.orig.Start(c.ctx, c.source.DisplayName); err != nil {
		c.logger.WithError(err).Warn("Origin start request failed; proceeding to load")
	}
}

// teardown is the end of the controller's life: generation bumped, timers
// cancelled, engine destroyed. Late adapter events cannot be observed after
// this because the loop exits.
func (c *Controller) teardown() {
	c.cancelAllTimers()
	c.graceArmed = false
	if c.eng != nil {
		c.eng.Destroy()
	}
	c.cancel()
	c.setState(types.StateStopped)
	c.logger.Debug("Controller torn down")
}

// fail surfaces an error record and parks the state machine in Error until
// an explicit retry or stop. The engine instance is destroyed; retry builds
// a fresh one.
func (c *Controller) fail(rec types.ErrorRecord) {
	c.cancelAllTimers()
	c.graceArmed = false
	if c.eng != nil {
		c.eng.Destroy()
	}
	c.setError(rec)
	c.setState(types.StateError)
}

func (c *Controller) handleCommand(cmd command) (stop bool) {
	switch cmd {
	case cmdStop:
		c.teardown()
		return true

	case cmdRetry:
		if c.state != types.StateError {
			return false
		}
		c.logger.Info("Explicit retry requested")
		c.cancelAllTimers()
		c.policy.Reset()
		c.detector = c.newDetector()
		c.backoff.Reset()
		c.reconnectAttempt = 0
		c.mediaRecoveries = 0
		c.bufferedEnd = 0
		c.lastPos = 0
		c.mu.Lock()
		c.status.LastError = nil
		c.mu.Unlock()
		c.setState(types.StateInitializing)
		c.connect()

	case cmdLock:
		target := c.tracker.Lock(c.currentBufferedEnd())
		if target > 0 {
			c.surf.SeekTo(target)
			c.met.IncResync()
			c.logger.WithField("target", target).Info("Locked to live edge")
		}
		c.publishLiveEdge()

	case cmdUnlock:
		c.tracker.Unlock()
		c.logger.Info("Live lock released")
		c.publishLiveEdge()
	}
	return false
}

func (c *Controller) handleEngineEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventManifestReady:
		c.logger.Debug("Manifest ready")
		// A manifest alone does not make the stream Connected, but it
		// proves the origin is up, so segment loads get a fresh silent
		// budget.
		c.policy.ResetAttempts()

	case engine.EventSegmentLoaded:
		if ev.BufferedEnd > 0 {
			c.bufferedEnd = ev.BufferedEnd
		}
		c.onFirstDecode()

	case engine.EventBufferAppended:
		if ev.BufferedEnd > 0 {
			c.bufferedEnd = ev.BufferedEnd
		}
		c.onProgress()

	case engine.EventError:
		c.handleEngineError(ev)

	case engine.EventEndOfStream:
		if c.source.IsLiveHint {
			// A live manifest ending usually means the encoder
			// restarted; reconnect rather than stop.
			c.logger.Warn("Live stream ended upstream; reconnecting")
			c.beginReconnect("end of stream")
			return
		}
		c.logger.Info("Stream ended")
		c.teardown()
	}
}

// onFirstDecode latches the first successful decode of the current load
// sequence and moves Connecting/Reconnecting to Connected.
func (c *Controller) onFirstDecode() {
	if !c.policy.FirstSegmentLoaded() {
		c.policy.OnLoaded()
		c.reconnectAttempt = 0
		c.mediaRecoveries = 0
		c.backoff.Reset()
		if c.state == types.StateConnecting || c.state == types.StateReconnecting {
			c.setState(types.StateConnected)
			c.surf.Play()
		}
	}
	c.onProgress()
}

// onProgress clears stall and freeze flags; any buffered or decoded media
// returns a Stalled controller to Connected immediately.
func (c *Controller) onProgress() {
	c.detector.OnProgress()
	c.cancelTimer(timerWaitingGrace)
	c.graceArmed = false
	if c.state == types.StateStalled {
		c.setState(types.StateConnected)
	}
}

func (c *Controller) handleEngineError(ev engine.Event) {
	log := c.logger.WithFields(logrus.Fields{
		"category": string(ev.Category),
		"detail":   ev.Detail,
		"fatal":    ev.Fatal,
	})

	if ev.Category == types.CategoryNonFatal && !ev.Fatal {
		log.Debug("Ignoring non-fatal engine error")
		return
	}

	// Early-stage failures from a possibly still-initializing origin stay
	// inside the silent window.
	if !c.policy.FirstSegmentLoaded() &&
		(ev.Category == types.CategoryNetwork || ev.Category == types.CategoryManifest) &&
		!ev.Fatal {
		if c.state == types.StateReconnecting {
			// Reconnect loads are budgeted by the backoff counter,
			// not the silent window.
			log.Debug("Reconnect load failed")
			c.beginReconnect(ev.Detail)
			return
		}
		switch c.policy.OnError() {
		case retrypolicy.DecisionRetry:
			log.WithField("attempt", c.policy.Attempt()).Debug("Suppressing early load failure")
			c.met.IncSilentRetry()
			c.schedule(timerSilentRetry, c.policy.RetryDelay())
		case retrypolicy.DecisionSurface:
			c.fail(c.policy.Record())
		case retrypolicy.DecisionClassify:
			// Unreachable: FirstSegmentLoaded was false above.
		}
		return
	}

	switch {
	case ev.Category == types.CategoryMedia:
		if c.mediaRecoveries < c.tuning.MediaRecoveryAttempts {
			c.mediaRecoveries++
			if err := c.eng.Recover(); err == nil {
				log.WithField("recovery", c.mediaRecoveries).Warn("Recovered media error in place")
				return
			}
			log.Warn("In-place media recovery failed")
		}
		c.fail(types.ErrorRecord{
			Category: types.CategoryMedia,
			Detail:   ev.Detail,
			Attempt:  c.mediaRecoveries,
		})

	case ev.Category == types.CategoryNetwork || ev.Category == types.CategoryManifest:
		log.Warn("Network error; reconnecting")
		c.beginReconnect(ev.Detail)

	default:
		c.fail(types.ErrorRecord{Category: types.CategoryFatal, Detail: ev.Detail})
	}
}

// beginReconnect moves to Reconnecting and schedules the next load behind a
// monotonically growing, capped backoff delay. The retry budget is bounded;
// a permanently dead origin ends in Error, never an infinite silent loop.
func (c *Controller) beginReconnect(detail string) {
	if c.reconnectAttempt >= c.tuning.ReconnectMaxRetries {
		c.fail(types.ErrorRecord{
			Category: types.CategoryNetwork,
			Detail:   "reconnect retries exhausted: " + detail,
			Attempt:  c.reconnectAttempt,
		})
		return
	}

	c.reconnectAttempt++
	c.met.IncReconnect()
	c.policy.Reset()
	c.detector = c.newDetector()
	c.cancelTimer(timerWaitingGrace)
	c.graceArmed = false
	if c.eng != nil {
		// The old session is done; the reconnect timer builds a fresh
		// engine.
		c.eng.Destroy()
	}
	c.setState(types.StateReconnecting)

	delay := c.backoff.NextBackOff()
	c.logger.WithFields(logrus.Fields{
		"attempt": c.reconnectAttempt,
		"delay":   delay.String(),
	}).Info("Scheduling reconnect")
	c.schedule(timerReconnect, delay)
}

func (c *Controller) handleTimer(kind timerKind) {
	switch kind {
	case timerSilentRetry:
		if c.state == types.StateConnecting {
			c.eng.Load(c.ctx, c.source)
		}

	case timerReconnect:
		if c.state == types.StateReconnecting {
			c.rebuildEngine()
			c.eng.Load(c.ctx, c.source)
		}

	case timerWaitingGrace:
		c.graceArmed = false
		if c.state != types.StateConnected {
			return
		}
		pos := c.surf.CurrentPosition()
		if c.surf.Waiting() && pos-c.posAtGrace <= c.tuning.FreezeTolerance {
			c.logger.Warn("Waiting signal persisted past grace period")
			c.setState(types.StateStalled)
		}
	}
}

// onSampleTick reads one buffer sample: progress detection, the waiting
// heuristic, and live-edge tracking.
func (c *Controller) onSampleTick() {
	if c.state != types.StateConnected && c.state != types.StateStalled {
		return
	}

	sample := types.BufferSample{
		CurrentPosition: c.surf.CurrentPosition(),
		BufferedEnd:     c.currentBufferedEnd(),
		Timestamp:       time.Now(),
	}

	if sample.CurrentPosition > c.lastPos+positionEpsilon {
		c.lastPos = sample.CurrentPosition
		c.onProgress()
	}

	if c.state == types.StateConnected {
		switch {
		case c.surf.Waiting() && !c.graceArmed:
			// Could be a real stall or just a segment boundary;
			// give it the grace period before flapping the UI.
			c.graceArmed = true
			c.posAtGrace = sample.CurrentPosition
			c.schedule(timerWaitingGrace, c.tuning.WaitingGrace)
		case !c.surf.Waiting() && c.graceArmed:
			// False alarm, clear silently.
			c.cancelTimer(timerWaitingGrace)
			c.graceArmed = false
		}
	}

	if c.source.IsLiveHint {
		target, seek := c.tracker.Update(sample, c.surf.Playing(), c.surf.Paused())
		if seek {
			c.logger.WithFields(logrus.Fields{
				"behind": sample.BufferedEnd - sample.CurrentPosition,
				"target": target,
			}).Info("Skipping to live edge")
			c.surf.SeekTo(target)
			c.met.IncResync()
		}
		c.publishLiveEdge()
	}
}

// onFreezeTick runs the freeze heuristic while nominally playing.
func (c *Controller) onFreezeTick() {
	if c.state != types.StateConnected && c.state != types.StateStalled {
		return
	}

	sample := types.BufferSample{
		CurrentPosition: c.surf.CurrentPosition(),
		BufferedEnd:     c.currentBufferedEnd(),
		Timestamp:       time.Now(),
	}

	switch c.detector.ObserveFreeze(sample, c.surf.Playing()) {
	case health.SignalProgress:
		if c.state == types.StateStalled {
			c.onProgress()
		}

	case health.SignalFrozen:
		c.logger.Warn("Playback frozen")
		c.met.IncFreeze()
		c.setState(types.StateStalled)

	case health.SignalResync:
		if c.source.IsLiveHint && !c.tracker.Locked() {
			target := c.tracker.Resync(sample.BufferedEnd)
			c.logger.WithField("target", target).Warn("Freeze persisted; resyncing to live edge")
			c.surf.SeekTo(target)
			c.met.IncResync()
		}

	case health.SignalHardFreeze:
		c.logger.Warn("Freeze persisted past hard limit; reconnecting")
		c.beginReconnect("playback frozen")

	case health.SignalNone:
	}
}

// currentBufferedEnd prefers the surface's buffered range and falls back to
// the last figure the engine reported.
func (c *Controller) currentBufferedEnd() float64 {
	if end := c.surf.BufferedEnd(); end > c.bufferedEnd {
		return end
	}
	return c.bufferedEnd
}
