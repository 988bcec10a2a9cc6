package liveedge

import (
	"testing"
	"time"

	"github.com/camwatch/playback/internal/types"
)

func sample(pos, end float64) types.BufferSample {
	return types.BufferSample{
		CurrentPosition: pos,
		BufferedEnd:     end,
		Timestamp:       time.Now(),
	}
}

func testConfig() Config {
	return Config{
		LiveThreshold:       6,
		AutoResyncThreshold: 8,
		SafetyOffset:        1,
	}
}

func TestBehindLiveComputation(t *testing.T) {
	tr := New(testConfig())

	tr.Update(sample(91, 100), true, false)
	st := tr.Status()
	if st.BehindLiveSeconds != 9 {
		t.Errorf("Expected behind-live 9, got %f", st.BehindLiveSeconds)
	}
	if st.IsAtLiveEdge {
		t.Error("9s behind should not count as at the live edge")
	}

	tr.Update(sample(99, 100), true, false)
	st = tr.Status()
	if st.BehindLiveSeconds != 1 {
		t.Errorf("Expected behind-live 1, got %f", st.BehindLiveSeconds)
	}
	if !st.IsAtLiveEdge {
		t.Error("1s behind should count as at the live edge")
	}
}

func TestBehindLiveNeverNegative(t *testing.T) {
	tr := New(testConfig())

	// A position reading past the buffered end clamps to zero.
	tr.Update(sample(105, 100), true, false)
	if got := tr.Status().BehindLiveSeconds; got != 0 {
		t.Errorf("Expected behind-live clamped to 0, got %f", got)
	}
}

func TestAutoResyncOncePerBreach(t *testing.T) {
	tr := New(testConfig())

	target, seek := tr.Update(sample(91, 100), true, false)
	if !seek {
		t.Fatal("Expected a skip-to-live seek at 9s behind")
	}
	if target != 99 {
		t.Errorf("Expected seek target 99 (bufferedEnd - safety offset), got %f", target)
	}

	// Still behind while the seek completes: no repeated seeking.
	if _, seek := tr.Update(sample(91, 100), true, false); seek {
		t.Error("Expected no second seek while the first correction completes")
	}
	if _, seek := tr.Update(sample(92, 101), true, false); seek {
		t.Error("Expected no seek before returning to the live edge")
	}

	// Back at the edge re-arms the heuristic; the next breach seeks again.
	tr.Update(sample(100, 101), true, false)
	if _, seek := tr.Update(sample(92, 101), true, false); !seek {
		t.Error("Expected a new seek after re-arming at the live edge")
	}
}

func TestNoResyncWhilePausedOrStopped(t *testing.T) {
	tr := New(testConfig())

	if _, seek := tr.Update(sample(91, 100), false, false); seek {
		t.Error("Expected no seek while not playing")
	}
	if _, seek := tr.Update(sample(91, 100), true, true); seek {
		t.Error("Expected no seek while user-paused")
	}
	if _, seek := tr.Update(sample(91, 100), true, false); !seek {
		t.Error("Expected seek once actively playing")
	}
}

func TestLockToLive(t *testing.T) {
	tr := New(testConfig())

	// 12s behind, then locked.
	tr.Update(sample(88, 100), false, false)
	target := tr.Lock(100)
	if target != 99 {
		t.Errorf("Expected lock seek target 99, got %f", target)
	}

	st := tr.Status()
	if !st.LockedToLive {
		t.Error("Expected locked status")
	}
	if !st.IsAtLiveEdge || st.BehindLiveSeconds != 0 {
		t.Errorf("Expected live-edge status while locked, got %+v", st)
	}

	// Subsequent ticks are suppressed entirely.
	if _, seek := tr.Update(sample(50, 100), true, false); seek {
		t.Error("Expected no seek while locked")
	}
	if got := tr.Status(); !got.IsAtLiveEdge || got.BehindLiveSeconds != 0 {
		t.Errorf("Expected status untouched while locked, got %+v", got)
	}

	tr.Unlock()
	tr.Update(sample(50, 100), true, false)
	if got := tr.Status().BehindLiveSeconds; got != 50 {
		t.Errorf("Expected behind-live recomputed after unlock, got %f", got)
	}
}

func TestResyncTargetClamped(t *testing.T) {
	tr := New(testConfig())

	if target := tr.Resync(0.5); target != 0 {
		t.Errorf("Expected clamped target 0, got %f", target)
	}
}
