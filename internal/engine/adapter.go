package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/camwatch/playback/internal/surface"
	"github.com/camwatch/playback/internal/types"
)

// Adapter fronts an Engine for the controller. It adds the two guarantees
// the raw capability does not make: Destroy is idempotent, and any event the
// engine produces after Destroy has been invoked is dropped rather than
// delivered. It holds no retry, health or live-edge logic.
type Adapter struct {
	eng    Engine
	logger *logrus.Entry

	out       chan Event
	closed    chan struct{}
	destroyed atomic.Bool
	once      sync.Once
}

// NewAdapter wraps the given engine and starts forwarding its events.
func NewAdapter(eng Engine, logger *logrus.Entry) *Adapter {
	a := &Adapter{
		eng:    eng,
		logger: logger,
		out:    make(chan Event, 16),
		closed: make(chan struct{}),
	}
	go a.forward()
	return a
}

func (a *Adapter) forward() {
	for ev := range a.eng.Events() {
		if a.destroyed.Load() {
			// Late event from an already-destroyed session. Drain
			// and drop so a torn-down controller never sees it.
			a.logger.WithField("event", ev.Kind.String()).Debug("Dropping event after destroy")
			continue
		}
		select {
		case a.out <- ev:
		case <-a.closed:
		}
	}
	close(a.out)
}

// Load forwards a load request unless the adapter has been destroyed.
func (a *Adapter) Load(ctx context.Context, src types.StreamSource) {
	if a.destroyed.Load() {
		return
	}
	a.eng.Load(ctx, src)
}

// AttachSurface binds the render surface unless the adapter has been
// destroyed.
func (a *Adapter) AttachSurface(s surface.Surface) {
	if a.destroyed.Load() {
		return
	}
	a.eng.AttachSurface(s)
}

// Recover forwards an in-place recovery request.
func (a *Adapter) Recover() error {
	if a.destroyed.Load() {
		return nil
	}
	return a.eng.Recover()
}

// Destroy tears the engine down exactly once. Further calls are no-ops.
func (a *Adapter) Destroy() {
	a.once.Do(func() {
		a.destroyed.Store(true)
		close(a.closed)
		a.eng.Destroy()
	})
}

// Events returns the filtered event stream. It is closed once the underlying
// engine's stream closes.
func (a *Adapter) Events() <-chan Event {
	return a.out
}
