// Package uplink implements the transport collaborator: one HTTP POST to
// the collector per captured frame, carrying chunk identity as request
// metadata.
package uplink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Collector responses are logged, never parsed; cap how much we read.
const maxLoggedBody = 4 << 10

// Meta is the chunk identity attached to every transmitted frame.
type Meta struct {
	ChunkID    uint64
	ChunkStart float64
}

// Sender is the loop-facing view of the client.
type Sender interface {
	// Send transmits one frame. A non-nil error means transport-level
	// failure (no response received). Any completed HTTP response is
	// success; the returned status code is informational only.
	Send(ctx context.Context, frame []byte, meta Meta, traceID string) (int, error)
}

// Client posts raw JPEG frames to the collector endpoint.
type Client struct {
	endpoint  *url.URL
	authToken string
	http      *http.Client

	mu        sync.RWMutex
	sent      uint64
	errors    uint64
	bytesSent uint64
	lastAt    time.Time
}

// Config holds uplink settings.
type Config struct {
	// URL is the collector upload endpoint.
	URL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// Timeout bounds a whole request; the loop must never hang on it.
	Timeout time.Duration
}

// Stats contains transmission statistics.
type Stats struct {
	FramesSent     uint64
	TransmitErrors uint64
	BytesSent      uint64
	LastSentAt     time.Time
}

// NewClient creates an uplink client.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid collector url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		endpoint:  u,
		authToken: cfg.AuthToken,
		http:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// FormatChunkStart renders a chunk-start timestamp with fixed 3-digit
// fractional precision, e.g. "1707429012.456".
func FormatChunkStart(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 3, 64)
}

// Send posts one frame with chunk metadata as query parameters.
func (c *Client) Send(ctx context.Context, frame []byte, meta Meta, traceID string) (int, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("chunk_id", strconv.FormatUint(meta.ChunkID, 10))
	q.Set("chunk_start", FormatChunkStart(meta.ChunkStart))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(frame))
	if err != nil {
		c.noteError()
		return 0, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	if traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.noteError()
		return 0, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	// A completed response is success regardless of status value; the
	// body is logged but never parsed or validated.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	slog.Debug("frame uploaded",
		"chunk_id", meta.ChunkID,
		"status", resp.StatusCode,
		"bytes", len(frame),
		"trace_id", traceID,
		"response", string(body),
	)

	c.mu.Lock()
	c.sent++
	c.bytesSent += uint64(len(frame))
	c.lastAt = time.Now()
	c.mu.Unlock()

	return resp.StatusCode, nil
}

// Stats returns transmission statistics.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		FramesSent:     c.sent,
		TransmitErrors: c.errors,
		BytesSent:      c.bytesSent,
		LastSentAt:     c.lastAt,
	}
}

func (c *Client) noteError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}
