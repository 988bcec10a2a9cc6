// Package origin talks to the stream origin: an existence probe against the
// playlist URL and the start/stop lifecycle endpoints of the origin
// management API. The origin's own state (transcoding, process supervision)
// is not owned here; the controller only calls these as preconditions.
package origin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnexpectedStatus is returned when the HTTP response has an
	// unexpected status code.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrNoAPIBase is returned when a lifecycle call is made without a
	// configured origin API base URL.
	ErrNoAPIBase = errors.New("origin API base URL not configured")
)

// Client issues origin probes and lifecycle calls.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Entry
}

// NewClient creates an origin client. baseURL may be empty, in which case
// only Probe is usable.
func NewClient(baseURL string, logger *logrus.Entry) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Probe checks whether the segment playlist exists yet. It is an idempotent
// HEAD request: 2xx means the origin is serving the stream, 404 means it is
// not (yet). Other statuses and transport failures are errors.
func (c *Client) Probe(ctx context.Context, playlistURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, playlistURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// Start asks the origin to begin producing the named stream.
func (c *Client) Start(ctx context.Context, name string) error {
	return c.lifecycle(ctx, name, "start")
}

// Stop asks the origin to stop producing the named stream.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.lifecycle(ctx, name, "stop")
}

func (c *Client) lifecycle(ctx context.Context, name, action string) error {
	if c.baseURL == "" {
		return ErrNoAPIBase
	}

	endpoint := fmt.Sprintf("%s/api/streams/%s/%s", c.baseURL, url.PathEscape(name), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", action, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("origin %s failed: %w", action, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"stream": name,
		"action": action,
	}).Debug("Origin lifecycle call completed")
	return nil
}

// HasAPI reports whether lifecycle calls are configured.
func (c *Client) HasAPI() bool {
	return c.baseURL != ""
}
