// Package config provides configuration management for the playback daemon.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	// ErrInvalidPort is returned when the port number is invalid.
	ErrInvalidPort = errors.New("invalid port number")
	// ErrInvalidLogLevel is returned when the log level is invalid.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrIntervalPositive is returned when a duration setting is not positive.
	ErrIntervalPositive = errors.New("interval must be positive")
	// ErrAttemptsPositive is returned when a retry budget is not positive.
	ErrAttemptsPositive = errors.New("attempts must be positive")
	// ErrThresholdOrder is returned when the auto-resync threshold is not
	// beyond the live threshold.
	ErrThresholdOrder = errors.New("auto-resync threshold must be >= live threshold")
)

// Config holds the application configuration.
type Config struct {
	Port         int
	LogLevel     string
	OriginAPIURL string
	Tuning       Tuning
}

// Tuning holds the playback heuristics. These are policy, not protocol:
// every threshold the controller, the detector and the tracker use is set
// here rather than hard-coded, so deployments can tune them.
type Tuning struct {
	// SampleInterval is the buffer-health sampling tick.
	SampleInterval time.Duration
	// FreezeCheckInterval is the freeze-detection tick.
	FreezeCheckInterval time.Duration
	// WaitingGrace is how long a "waiting" signal may persist before
	// playback is declared stalled.
	WaitingGrace time.Duration
	// FreezeTolerance is the position delta (seconds of media) below
	// which playback counts as not advancing.
	FreezeTolerance float64
	// FreezeWindow is how long the position must hold still before the
	// frozen flag is raised.
	FreezeWindow time.Duration
	// FreezeResyncDelay is the additional frozen time, on live streams,
	// after which a skip-to-live resync is issued automatically.
	FreezeResyncDelay time.Duration
	// HardFreezeLimit is the frozen time after which the controller gives
	// up on the current session and reconnects.
	HardFreezeLimit time.Duration

	// LiveThresholdSeconds is the behind-live distance under which
	// playback counts as at the live edge.
	LiveThresholdSeconds float64
	// AutoResyncThresholdSeconds is the behind-live distance beyond which
	// an automatic skip-to-live seek is issued.
	AutoResyncThresholdSeconds float64
	// LiveSafetyOffsetSeconds is how far short of the buffered end a
	// skip-to-live seek lands.
	LiveSafetyOffsetSeconds float64

	// SilentMaxAttempts bounds the silent early-load retry window.
	SilentMaxAttempts int
	// SilentRetryDelay is the fixed delay between silent re-polls of a
	// possibly still-initializing origin.
	SilentRetryDelay time.Duration

	// ReconnectInitialDelay seeds the exponential reconnect backoff.
	ReconnectInitialDelay time.Duration
	// ReconnectMaxDelay caps the reconnect backoff.
	ReconnectMaxDelay time.Duration
	// ReconnectMaxRetries bounds reconnect attempts before surfacing an
	// error.
	ReconnectMaxRetries int
	// MediaRecoveryAttempts bounds in-place decode recovery attempts.
	MediaRecoveryAttempts int

	// PollInterval is the playlist poll cadence of the HLS engine.
	PollInterval time.Duration
}

// DefaultTuning returns the stock playback heuristics.
func DefaultTuning() Tuning {
	return Tuning{
		SampleInterval:             time.Second,
		FreezeCheckInterval:        time.Second,
		WaitingGrace:               4 * time.Second,
		FreezeTolerance:            0.1,
		FreezeWindow:               4 * time.Second,
		FreezeResyncDelay:          2 * time.Second,
		HardFreezeLimit:            8 * time.Second,
		LiveThresholdSeconds:       6,
		AutoResyncThresholdSeconds: 8,
		LiveSafetyOffsetSeconds:    1,
		SilentMaxAttempts:          15,
		SilentRetryDelay:           time.Second,
		ReconnectInitialDelay:      500 * time.Millisecond,
		ReconnectMaxDelay:          8 * time.Second,
		ReconnectMaxRetries:        5,
		MediaRecoveryAttempts:      2,
		PollInterval:               2 * time.Second,
	}
}

// New creates a new configuration instance by parsing command-line flags.
// Flag defaults come from environment variables where set; a .env file in
// the working directory is loaded first if present.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{Tuning: DefaultTuning()}

	flag.IntVar(&cfg.Port, "port", envInt("PLAYBACK_PORT", 8080), "Port to listen on")
	flag.StringVar(&cfg.LogLevel, "log-level", envStr("PLAYBACK_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.OriginAPIURL, "origin-api", envStr("PLAYBACK_ORIGIN_API", ""), "Base URL of the origin management API (optional)")

	flag.DurationVar(&cfg.Tuning.SampleInterval, "sample-interval", cfg.Tuning.SampleInterval, "Buffer health sampling interval")
	flag.DurationVar(&cfg.Tuning.FreezeCheckInterval, "freeze-check-interval", cfg.Tuning.FreezeCheckInterval, "Freeze detection interval")
	flag.DurationVar(&cfg.Tuning.WaitingGrace, "waiting-grace", cfg.Tuning.WaitingGrace, "Grace period for a waiting signal before declaring a stall")
	flag.DurationVar(&cfg.Tuning.FreezeWindow, "freeze-window", cfg.Tuning.FreezeWindow, "How long the position must hold still before flagging frozen")
	flag.DurationVar(&cfg.Tuning.HardFreezeLimit, "hard-freeze-limit", cfg.Tuning.HardFreezeLimit, "Frozen time after which the controller reconnects")
	flag.Float64Var(&cfg.Tuning.LiveThresholdSeconds, "live-threshold", cfg.Tuning.LiveThresholdSeconds, "Behind-live seconds under which playback counts as live")
	flag.Float64Var(&cfg.Tuning.AutoResyncThresholdSeconds, "auto-resync-threshold", cfg.Tuning.AutoResyncThresholdSeconds, "Behind-live seconds beyond which playback skips to live")
	flag.IntVar(&cfg.Tuning.SilentMaxAttempts, "silent-max-attempts", cfg.Tuning.SilentMaxAttempts, "Silent retry attempts while the origin starts up")
	flag.DurationVar(&cfg.Tuning.SilentRetryDelay, "silent-retry-delay", cfg.Tuning.SilentRetryDelay, "Fixed delay between silent retries")
	flag.IntVar(&cfg.Tuning.ReconnectMaxRetries, "reconnect-max-retries", cfg.Tuning.ReconnectMaxRetries, "Reconnect attempts before surfacing an error")
	flag.DurationVar(&cfg.Tuning.PollInterval, "poll-interval", cfg.Tuning.PollInterval, "Playlist poll interval of the HLS engine")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("%w: %s (must be debug, info, warn, or error)", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.OriginAPIURL != "" {
		if _, err := url.Parse(c.OriginAPIURL); err != nil {
			return fmt.Errorf("invalid origin API URL: %w", err)
		}
	}

	return c.Tuning.Validate()
}

// Validate checks if the tuning values are usable.
func (t Tuning) Validate() error {
	durations := map[string]time.Duration{
		"sample-interval":       t.SampleInterval,
		"freeze-check-interval": t.FreezeCheckInterval,
		"waiting-grace":         t.WaitingGrace,
		"freeze-window":         t.FreezeWindow,
		"freeze-resync-delay":   t.FreezeResyncDelay,
		"hard-freeze-limit":     t.HardFreezeLimit,
		"silent-retry-delay":    t.SilentRetryDelay,
		"reconnect-initial":     t.ReconnectInitialDelay,
		"reconnect-max-delay":   t.ReconnectMaxDelay,
		"poll-interval":         t.PollInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrIntervalPositive, name)
		}
	}

	if t.SilentMaxAttempts < 1 || t.ReconnectMaxRetries < 1 || t.MediaRecoveryAttempts < 1 {
		return ErrAttemptsPositive
	}

	if t.AutoResyncThresholdSeconds < t.LiveThresholdSeconds {
		return ErrThresholdOrder
	}

	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
