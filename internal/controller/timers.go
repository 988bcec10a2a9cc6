package controller

import "time"

// timerKind identifies one of the controller's one-shot timers.
type timerKind int

const (
	// timerSilentRetry re-issues a load during the silent window.
	timerSilentRetry timerKind = iota
	// timerWaitingGrace confirms or dismisses a waiting signal.
	timerWaitingGrace
	// timerReconnect fires the next backoff-delayed reconnect load.
	timerReconnect
)

func (k timerKind) String() string {
	switch k {
	case timerSilentRetry:
		return "silent_retry"
	case timerWaitingGrace:
		return "waiting_grace"
	case timerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// timerEvent is delivered into the run loop when a one-shot timer fires. It
// carries the controller generation it was scheduled under; the loop discards
// events from a stale generation, so a timer that fires during teardown can
// never resurrect state.
type timerEvent struct {
	gen  uint64
	kind timerKind
}

// schedule arms a one-shot timer of the given kind, replacing any pending
// timer of the same kind. Only the run loop calls this.
func (c *Controller) schedule(kind timerKind, d time.Duration) {
	c.cancelTimer(kind)
	gen := c.gen
	c.pending[kind] = time.AfterFunc(d, func() {
		select {
		case c.timerCh <- timerEvent{gen: gen, kind: kind}:
		case <-c.done:
		}
	})
}

// cancelTimer stops a pending timer of the given kind, if any. Only the run
// loop calls this.
func (c *Controller) cancelTimer(kind timerKind) {
	if t, ok := c.pending[kind]; ok {
		t.Stop()
		delete(c.pending, kind)
	}
}

// cancelAllTimers stops every pending one-shot timer and bumps the generation
// so anything already in flight is discarded on arrival. This is the single
// cancellation point invoked on every transition out of a retrying state and
// on teardown.
func (c *Controller) cancelAllTimers() {
	c.gen++
	for kind, t := range c.pending {
		t.Stop()
		delete(c.pending, kind)
	}
}
