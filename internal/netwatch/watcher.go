// Package netwatch provides the connectivity collaborator: a cached
// boolean "is the collector reachable" signal refreshed by background
// TCP probes, so the capture loop never blocks on a connectivity check.
package netwatch

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
)

// Connectivity is the loop-facing view of the watcher.
type Connectivity interface {
	Connected() bool
}

// Watcher probes a TCP endpoint on an interval and caches the result.
// State-change notifications are debounced so a flapping link produces
// one settled event instead of a burst.
type Watcher struct {
	addr     string
	interval time.Duration
	timeout  time.Duration

	connected atomic.Bool

	mu       sync.Mutex
	settle   func(f func())
	onChange func(up bool)
}

// Config holds watcher settings.
type Config struct {
	// ProbeAddr is the host:port dialed to test reachability.
	ProbeAddr string
	// Interval between probes.
	Interval time.Duration
	// Timeout for a single dial attempt.
	Timeout time.Duration
	// FlapSettle is the quiet period required before a state change is
	// reported through OnChange.
	FlapSettle time.Duration
	// OnChange, if set, is invoked with the settled state after a change.
	OnChange func(up bool)
}

// NewWatcher creates a watcher. It starts in the disconnected state until
// the first successful probe.
func NewWatcher(cfg Config) *Watcher {
	return &Watcher{
		addr:     cfg.ProbeAddr,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		settle:   debounce.New(cfg.FlapSettle),
		onChange: cfg.OnChange,
	}
}

// Connected returns the cached reachability state.
func (w *Watcher) Connected() bool {
	return w.connected.Load()
}

// Run probes until ctx is done. The first probe happens immediately so
// startup does not wait a full interval for the initial state.
func (w *Watcher) Run(ctx context.Context) {
	w.probe()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe()
		}
	}
}

// WaitConnected blocks until the watcher observes connectivity or ctx is
// done. Used by the startup sequence; polling forever is intentional.
func (w *Watcher) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if w.Connected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) probe() {
	conn, err := net.DialTimeout("tcp", w.addr, w.timeout)
	up := err == nil
	if conn != nil {
		conn.Close()
	}

	was := w.connected.Swap(up)
	if was == up {
		return
	}

	if up {
		slog.Info("connectivity restored", "probe_addr", w.addr)
	} else {
		slog.Warn("connectivity lost", "probe_addr", w.addr, "error", err)
	}

	w.mu.Lock()
	settle, onChange := w.settle, w.onChange
	w.mu.Unlock()

	if onChange != nil {
		settle(func() {
			onChange(w.connected.Load())
		})
	}
}
