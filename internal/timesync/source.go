// Package timesync provides the wall-clock collaborator for chunk labels:
// a monotonically non-decreasing epoch-seconds source that reports whether
// it has synchronized against a trusted reference yet.
package timesync

import (
	"context"
	"time"
)

// Source yields epoch time for chunk labelling. Implementations must be
// safe for use from the capture loop plus background resync goroutines.
type Source interface {
	// Now returns the current time in epoch seconds with sub-second
	// precision. Before synchronization the value is whatever the local
	// clock holds; callers gate on Synchronized at startup.
	Now() float64
	// Synchronized reports whether the source has been aligned against
	// its reference at least once.
	Synchronized() bool
	// WaitSync blocks until the source is synchronized or ctx is done.
	// This is the only condition allowed to block startup indefinitely.
	WaitSync(ctx context.Context) error
}

// SystemSource trusts the operating system clock (hosts running their own
// NTP daemon). It is always synchronized.
type SystemSource struct{}

// NewSystemSource creates a SystemSource.
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// Now returns the OS clock in epoch seconds.
func (s *SystemSource) Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Synchronized always reports true.
func (s *SystemSource) Synchronized() bool { return true }

// WaitSync returns immediately.
func (s *SystemSource) WaitSync(ctx context.Context) error { return nil }
