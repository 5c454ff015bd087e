package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockProvider generates synthetic JPEG-framed payloads for testing and
// for running the agent without camera hardware. Failures can be scripted
// with FailNext.
type MockProvider struct {
	frameSize int

	mu             sync.Mutex
	isRunning      bool
	failures       int
	framesCaptured uint64
	captureErrors  uint64
	bytesCaptured  uint64
	lastCaptureAt  time.Time
}

// NewMockProvider creates a mock provider emitting frames of frameSize
// bytes.
func NewMockProvider(frameSize int) *MockProvider {
	if frameSize < 4 {
		frameSize = 4
	}
	return &MockProvider{frameSize: frameSize}
}

// Start marks the provider running.
func (m *MockProvider) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("camera already started")
	}
	m.isRunning = true

	slog.Info("mock camera started", "frame_size", m.frameSize)
	return nil
}

// FailNext makes the next n Capture calls fail.
func (m *MockProvider) FailNext(n int) {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
}

// CaptureCount returns how many captures succeeded.
func (m *MockProvider) CaptureCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.framesCaptured
}

// Capture returns a synthetic frame, or a scripted failure.
func (m *MockProvider) Capture(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return nil, fmt.Errorf("camera not started")
	}
	if m.failures > 0 {
		m.failures--
		m.captureErrors++
		return nil, fmt.Errorf("no frame available")
	}

	data := acquireBuffer(m.frameSize)
	// JPEG SOI marker so payloads look like what the real provider emits.
	data[0], data[1] = 0xFF, 0xD8
	data[len(data)-2], data[len(data)-1] = 0xFF, 0xD9

	m.framesCaptured++
	m.bytesCaptured += uint64(len(data))
	m.lastCaptureAt = time.Now()

	return &Frame{
		Data:       data,
		CapturedAt: m.lastCaptureAt,
		TraceID:    uuid.New().String(),
	}, nil
}

// Stop marks the provider stopped.
func (m *MockProvider) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isRunning = false
	return nil
}

// Stats returns capture statistics.
func (m *MockProvider) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		FramesCaptured: m.framesCaptured,
		CaptureErrors:  m.captureErrors,
		BytesCaptured:  m.bytesCaptured,
		LastCaptureAt:  m.lastCaptureAt,
		IsRunning:      m.isRunning,
	}
}
