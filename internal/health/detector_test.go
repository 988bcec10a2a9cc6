package health

import (
	"testing"
	"time"

	"github.com/camwatch/playback/internal/types"
)

func testConfig() Config {
	return Config{
		Tolerance:    0.1,
		FreezeWindow: 4 * time.Second,
		ResyncDelay:  2 * time.Second,
		HardLimit:    8 * time.Second,
	}
}

func at(base time.Time, sec int, pos float64) types.BufferSample {
	return types.BufferSample{
		CurrentPosition: pos,
		BufferedEnd:     pos + 10,
		Timestamp:       base.Add(time.Duration(sec) * time.Second),
	}
}

func TestFreezeFlaggedAtThreshold(t *testing.T) {
	d := New(testConfig(), false)
	base := time.Now()

	// Baseline tick.
	if sig := d.ObserveFreeze(at(base, 0, 5), true); sig != SignalNone {
		t.Fatalf("Tick 0: expected none, got %s", sig)
	}

	// Position held constant: nothing before the window elapses.
	for tick := 1; tick <= 3; tick++ {
		if sig := d.ObserveFreeze(at(base, tick, 5), true); sig != SignalNone {
			t.Fatalf("Tick %d: expected none before the freeze window, got %s", tick, sig)
		}
	}

	// The 4s window elapses at tick 4.
	if sig := d.ObserveFreeze(at(base, 4, 5), true); sig != SignalFrozen {
		t.Fatalf("Tick 4: expected frozen, got %s", sig)
	}
	if !d.Frozen() {
		t.Error("Expected frozen flag set")
	}

	// Flagged once per episode, not on every subsequent tick.
	if sig := d.ObserveFreeze(at(base, 5, 5), true); sig != SignalNone {
		t.Errorf("Tick 5: expected none after flagging, got %s", sig)
	}
}

func TestLiveEscalation(t *testing.T) {
	d := New(testConfig(), true)
	base := time.Now()

	d.ObserveFreeze(at(base, 0, 5), true)
	if sig := d.ObserveFreeze(at(base, 4, 5), true); sig != SignalFrozen {
		t.Fatalf("Expected frozen at 4s, got %s", sig)
	}

	// Resync advised after the additional delay (4s + 2s).
	if sig := d.ObserveFreeze(at(base, 5, 5), true); sig != SignalNone {
		t.Fatalf("Expected none at 5s, got %s", sig)
	}
	if sig := d.ObserveFreeze(at(base, 6, 5), true); sig != SignalResync {
		t.Fatalf("Expected resync at 6s, got %s", sig)
	}

	// Hard freeze after the hard limit on top (4s + 2s + 8s).
	if sig := d.ObserveFreeze(at(base, 13, 5), true); sig != SignalNone {
		t.Fatalf("Expected none at 13s, got %s", sig)
	}
	if sig := d.ObserveFreeze(at(base, 14, 5), true); sig != SignalHardFreeze {
		t.Fatalf("Expected hard freeze at 14s, got %s", sig)
	}
}

func TestNonLiveSkipsResyncButHardFreezes(t *testing.T) {
	d := New(testConfig(), false)
	base := time.Now()

	d.ObserveFreeze(at(base, 0, 5), true)
	if sig := d.ObserveFreeze(at(base, 4, 5), true); sig != SignalFrozen {
		t.Fatalf("Expected frozen at 4s, got %s", sig)
	}

	// The skip-to-live resync makes no sense without a live edge.
	for _, sec := range []int{6, 10, 13} {
		if sig := d.ObserveFreeze(at(base, sec, 5), true); sig != SignalNone {
			t.Errorf("Non-live at %ds: expected none, got %s", sec, sig)
		}
	}

	// The hard-freeze reconnect does: a frozen session must not sit in
	// Stalled forever just because the source is not live.
	if sig := d.ObserveFreeze(at(base, 14, 5), true); sig != SignalHardFreeze {
		t.Fatalf("Expected hard freeze at 14s, got %s", sig)
	}
	if sig := d.ObserveFreeze(at(base, 60, 5), true); sig != SignalNone {
		t.Errorf("Expected hard freeze raised once per episode, got %s", sig)
	}
}

func TestProgressClearsEpisode(t *testing.T) {
	d := New(testConfig(), true)
	base := time.Now()

	d.ObserveFreeze(at(base, 0, 5), true)
	d.ObserveFreeze(at(base, 4, 5), true)
	if !d.Frozen() {
		t.Fatal("Expected frozen flag set")
	}

	if sig := d.ObserveFreeze(at(base, 5, 6), true); sig != SignalProgress {
		t.Fatalf("Expected progress, got %s", sig)
	}
	if d.Frozen() {
		t.Error("Expected frozen flag cleared by progress")
	}

	// The clock restarts: a fresh freeze needs a full window again.
	if sig := d.ObserveFreeze(at(base, 8, 6), true); sig != SignalNone {
		t.Errorf("Expected none 3s into a new episode, got %s", sig)
	}
	if sig := d.ObserveFreeze(at(base, 9, 6), true); sig != SignalFrozen {
		t.Errorf("Expected frozen 4s into a new episode, got %s", sig)
	}
}

func TestToleranceTreatsJitterAsFrozen(t *testing.T) {
	d := New(testConfig(), false)
	base := time.Now()

	// Sub-tolerance jitter does not count as progress.
	d.ObserveFreeze(at(base, 0, 5), true)
	d.ObserveFreeze(at(base, 1, 5.05), true)
	d.ObserveFreeze(at(base, 2, 5.02), true)
	d.ObserveFreeze(at(base, 3, 5.08), true)
	if sig := d.ObserveFreeze(at(base, 4, 5.01), true); sig != SignalFrozen {
		t.Errorf("Expected jittering position to freeze, got %s", sig)
	}
}

func TestPausedSurfaceIsNotFrozen(t *testing.T) {
	d := New(testConfig(), false)
	base := time.Now()

	d.ObserveFreeze(at(base, 0, 5), true)
	for tick := 1; tick <= 20; tick++ {
		if sig := d.ObserveFreeze(at(base, tick, 5), false); sig != SignalNone {
			t.Fatalf("Tick %d while paused: expected none, got %s", tick, sig)
		}
	}
}

func TestOnProgressResetsBaseline(t *testing.T) {
	d := New(testConfig(), false)
	base := time.Now()

	d.ObserveFreeze(at(base, 0, 5), true)
	d.ObserveFreeze(at(base, 3, 5), true)
	d.OnProgress()

	// The next tick re-baselines instead of inheriting the stale window.
	if sig := d.ObserveFreeze(at(base, 4, 5), true); sig != SignalNone {
		t.Errorf("Expected baseline tick after OnProgress, got %s", sig)
	}
	if sig := d.ObserveFreeze(at(base, 7, 5), true); sig != SignalNone {
		t.Errorf("Expected none 3s after re-baseline, got %s", sig)
	}
	if sig := d.ObserveFreeze(at(base, 8, 5), true); sig != SignalFrozen {
		t.Errorf("Expected frozen 4s after re-baseline, got %s", sig)
	}
}
