package retrypolicy

import (
	"testing"
	"time"

	"github.com/camwatch/playback/internal/types"
)

func TestSilentWindow(t *testing.T) {
	p := New(Config{MaxAttempts: 15, RetryDelay: time.Second})

	// The first 14 failures stay silent.
	for i := 1; i <= 14; i++ {
		d := p.OnError()
		if d != DecisionRetry {
			t.Fatalf("Error %d: expected DecisionRetry, got %v", i, d)
		}
		if p.Attempt() != i {
			t.Errorf("Error %d: expected attempt %d, got %d", i, i, p.Attempt())
		}
	}

	// The 15th exhausts the window.
	if d := p.OnError(); d != DecisionSurface {
		t.Fatalf("Expected DecisionSurface on attempt 15, got %v", d)
	}
	if p.Attempt() != 15 {
		t.Errorf("Expected attempt 15, got %d", p.Attempt())
	}

	rec := p.Record()
	if rec.Category != types.CategoryNetwork {
		t.Errorf("Expected network category, got %s", rec.Category)
	}
	if rec.Detail != "origin unavailable" {
		t.Errorf("Unexpected detail %q", rec.Detail)
	}
	if rec.Attempt != 15 {
		t.Errorf("Expected record attempt 15, got %d", rec.Attempt)
	}
}

func TestAttemptNeverExceedsMax(t *testing.T) {
	p := New(Config{MaxAttempts: 3, RetryDelay: time.Second})

	for i := 0; i < 10; i++ {
		p.OnError()
		if p.Attempt() > 3 {
			t.Fatalf("Attempt %d exceeds max 3", p.Attempt())
		}
	}
}

func TestFirstDecodeLatches(t *testing.T) {
	p := New(Config{MaxAttempts: 5, RetryDelay: time.Second})

	p.OnError()
	p.OnError()
	p.OnLoaded()

	if !p.FirstSegmentLoaded() {
		t.Error("Expected first segment latch to be set")
	}
	if p.Attempt() != 0 {
		t.Errorf("Expected attempt reset to 0, got %d", p.Attempt())
	}

	// Errors after the first decode belong to ordinary classification.
	if d := p.OnError(); d != DecisionClassify {
		t.Errorf("Expected DecisionClassify after first decode, got %v", d)
	}
}

func TestReset(t *testing.T) {
	p := New(Config{MaxAttempts: 5, RetryDelay: time.Second})

	p.OnLoaded()
	p.Reset()

	if p.FirstSegmentLoaded() {
		t.Error("Expected latch cleared after reset")
	}
	if d := p.OnError(); d != DecisionRetry {
		t.Errorf("Expected DecisionRetry after reset, got %v", d)
	}
}

func TestResetAttempts(t *testing.T) {
	p := New(Config{MaxAttempts: 5, RetryDelay: time.Second})

	p.OnError()
	p.OnError()
	p.ResetAttempts()

	if p.Attempt() != 0 {
		t.Errorf("Expected attempt 0 after counter reset, got %d", p.Attempt())
	}
	if p.FirstSegmentLoaded() {
		t.Error("Counter reset must not latch the first decode")
	}
}
