// Package camera provides the capture collaborator: a Provider that yields
// one encoded frame per Capture call, plus the mock used in tests.
package camera

import (
	"context"
	"sync"
	"time"
)

// Frame is a single captured image. It is a single-owner resource: the
// capture loop owns it from the moment Capture returns until Release, and
// must not touch it afterwards.
type Frame struct {
	// Data is the encoded image (JPEG).
	Data []byte
	// CapturedAt is the local capture instant.
	CapturedAt time.Time
	// TraceID identifies the frame across the pipeline and in collector
	// logs.
	TraceID string

	released bool
}

// Release returns the frame's buffer for reuse. Idempotent; the frame must
// not be read after the first call.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	recycleBuffer(f.Data)
	f.Data = nil
}

// Provider acquires frames from a camera. Implementations must keep
// Capture bounded in time so the loop cannot hang.
type Provider interface {
	// Start initializes the device/pipeline.
	Start(ctx context.Context) error
	// Capture returns the freshest available frame or an error when no
	// frame is available. The caller owns the returned frame until it
	// calls Release.
	Capture(ctx context.Context) (*Frame, error)
	// Stop releases the device/pipeline. Idempotent.
	Stop() error
	// Stats returns capture statistics.
	Stats() Stats
}

// Stats contains capture statistics.
type Stats struct {
	FramesCaptured uint64
	CaptureErrors  uint64
	BytesCaptured  uint64
	LastCaptureAt  time.Time
	IsRunning      bool
}

// Reusable buffers for frame data. Capture copies pipeline samples into a
// pooled slice; Release hands it back. If a caller never releases, this
// degrades gracefully to plain allocation.
var bufferPool sync.Pool

func acquireBuffer(n int) []byte {
	if v := bufferPool.Get(); v != nil {
		buf := v.([]byte)
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]byte, n)
}

func recycleBuffer(buf []byte) {
	if buf == nil {
		return
	}
	bufferPool.Put(buf[:0])
}
