package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/visiona/camlink/internal/camera"
	"github.com/visiona/camlink/internal/chunk"
	"github.com/visiona/camlink/internal/config"
	"github.com/visiona/camlink/internal/uplink"
)

// tickClock is a hand-driven monotonic tick source.
type tickClock struct {
	tick uint32
}

func (c *tickClock) Ticks() uint32 { return c.tick }

// fixedWall is a hand-driven epoch-seconds source.
type fixedWall struct {
	now float64
}

func (w *fixedWall) Now() float64 { return w.now }

// fakeConn is a switchable connectivity signal.
type fakeConn struct {
	up bool
}

func (c *fakeConn) Connected() bool { return c.up }

// sentFrame records one transmit attempt.
type sentFrame struct {
	meta    uplink.Meta
	traceID string
	size    int
}

// fakeSender records transmits and can be scripted to fail.
type fakeSender struct {
	calls []sentFrame
	fail  bool
}

func (f *fakeSender) Send(ctx context.Context, frame []byte, meta uplink.Meta, traceID string) (int, error) {
	f.calls = append(f.calls, sentFrame{meta: meta, traceID: traceID, size: len(frame)})
	if f.fail {
		return 0, fmt.Errorf("connection reset")
	}
	return 200, nil
}

// scriptedCamera hands out pre-built frames so tests can observe Release.
type scriptedCamera struct {
	frames   []*camera.Frame
	failNext bool
	captures int
}

func (c *scriptedCamera) Start(ctx context.Context) error { return nil }
func (c *scriptedCamera) Stop() error                     { return nil }
func (c *scriptedCamera) Stats() camera.Stats             { return camera.Stats{} }

func (c *scriptedCamera) Capture(ctx context.Context) (*camera.Frame, error) {
	c.captures++
	if c.failNext {
		c.failNext = false
		return nil, fmt.Errorf("no frame available")
	}
	if len(c.frames) == 0 {
		return &camera.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, TraceID: "t"}, nil
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return frame, nil
}

// newTestService assembles a Service around fakes with zero sleeps so
// iterations run instantly.
func newTestService(clock *tickClock, wall *fixedWall, cam camera.Provider, sender uplink.Sender, conn *fakeConn) *Service {
	s := &Service{
		cfg:    &config.Config{InstanceID: "test"},
		clock:  clock,
		camera: cam,
		uplink: sender,
		conn:   conn,
	}
	s.timer = chunk.NewTimer(clock, wall, 1000)
	s.timer.StartNewChunk() // startup sequence opens the first chunk
	s.isRunning = true
	s.started = time.Now()
	return s
}

func TestIterationTransmitsCurrentChunkIdentity(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.456}
	sender := &fakeSender{}
	s := newTestService(clock, wall, &scriptedCamera{}, sender, &fakeConn{up: true})

	s.iterate(context.Background())

	if len(sender.calls) != 1 {
		t.Fatalf("transmits = %d, want 1", len(sender.calls))
	}
	got := sender.calls[0]
	if got.meta.ChunkID != 1 || got.meta.ChunkStart != 1707429012.456 {
		t.Errorf("meta = %+v, want chunk 1 @ 1707429012.456", got.meta)
	}
	if got.size == 0 {
		t.Error("transmitted empty frame")
	}
}

func TestCaptureFailureSkipsTransmitAndKeepsState(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.456}
	cam := &scriptedCamera{failNext: true}
	sender := &fakeSender{}
	s := newTestService(clock, wall, cam, sender, &fakeConn{up: true})

	beforeID, beforeTS := s.timer.Snapshot()
	s.iterate(context.Background())

	if len(sender.calls) != 0 {
		t.Errorf("transmits after capture failure = %d, want 0", len(sender.calls))
	}
	if id, ts := s.timer.Snapshot(); id != beforeID || ts != beforeTS {
		t.Errorf("chunk state mutated by capture failure: (%d,%v) -> (%d,%v)", beforeID, beforeTS, id, ts)
	}

	// The loop recovers on the very next iteration.
	s.iterate(context.Background())
	if len(sender.calls) != 1 {
		t.Errorf("transmits after recovery = %d, want 1", len(sender.calls))
	}
}

func TestTransmitFailureDropsFrameWithoutRetry(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.456}
	cam := &scriptedCamera{}
	sender := &fakeSender{fail: true}
	s := newTestService(clock, wall, cam, sender, &fakeConn{up: true})

	s.iterate(context.Background())

	if cam.captures != 1 {
		t.Errorf("captures = %d, want exactly 1 (no retry within iteration)", cam.captures)
	}
	if len(sender.calls) != 1 {
		t.Errorf("transmit attempts = %d, want 1", len(sender.calls))
	}

	// Subsequent iterations are not blocked.
	sender.fail = false
	s.iterate(context.Background())
	if cam.captures != 2 || len(sender.calls) != 2 {
		t.Errorf("loop stalled after transmit failure: captures=%d transmits=%d", cam.captures, len(sender.calls))
	}
}

func TestFrameReleasedOnBothTransmitOutcomes(t *testing.T) {
	for _, fail := range []bool{false, true} {
		name := "transmit success"
		if fail {
			name = "transmit failure"
		}
		t.Run(name, func(t *testing.T) {
			clock := &tickClock{}
			wall := &fixedWall{now: 1707429012.456}
			frame := &camera.Frame{Data: []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}, TraceID: "trace"}
			cam := &scriptedCamera{frames: []*camera.Frame{frame}}
			s := newTestService(clock, wall, cam, &fakeSender{fail: fail}, &fakeConn{up: true})

			s.iterate(context.Background())

			if frame.Data != nil {
				t.Error("frame not released after transmit attempt")
			}
		})
	}
}

func TestDisconnectedIterationsAreInert(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.456}
	cam := &scriptedCamera{}
	sender := &fakeSender{}
	conn := &fakeConn{up: true}
	s := newTestService(clock, wall, cam, sender, conn)

	beforeID, beforeTS := s.timer.Snapshot()

	// Outage spanning several chunk windows.
	conn.up = false
	for i := 0; i < 3; i++ {
		clock.tick += 2000
		s.iterate(context.Background())
	}

	if cam.captures != 0 {
		t.Errorf("captures while disconnected = %d, want 0", cam.captures)
	}
	if len(sender.calls) != 0 {
		t.Errorf("transmits while disconnected = %d, want 0", len(sender.calls))
	}
	if id, ts := s.timer.Snapshot(); id != beforeID || ts != beforeTS {
		t.Errorf("chunk state advanced while disconnected: (%d,%v) -> (%d,%v)", beforeID, beforeTS, id, ts)
	}

	s.mu.RLock()
	offline := s.stats.offlineIterations
	s.mu.RUnlock()
	if offline != 3 {
		t.Errorf("offline iterations = %d, want 3", offline)
	}

	// Reconnect: normal operation resumes with a single rollover, not a
	// backlog of chunk IDs matching the outage.
	conn.up = true
	s.iterate(context.Background())

	if id, _ := s.timer.Snapshot(); id != beforeID+1 {
		t.Errorf("chunk id after reconnect = %d, want %d (exactly one rollover)", id, beforeID+1)
	}
	if cam.captures != 1 || len(sender.calls) != 1 {
		t.Errorf("normal operation did not resume: captures=%d transmits=%d", cam.captures, len(sender.calls))
	}
}

func TestStalledIterationRollsOverAtMostOnce(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.456}
	sender := &fakeSender{}
	s := newTestService(clock, wall, &scriptedCamera{}, sender, &fakeConn{up: true})

	// The loop stalled for ten chunk windows.
	clock.tick = 10_000
	s.iterate(context.Background())

	if id, _ := s.timer.Snapshot(); id != 2 {
		t.Errorf("chunk id after stalled iteration = %d, want 2", id)
	}
}

func TestRolloverHappensBeforeSnapshotForCapture(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.000}
	sender := &fakeSender{}
	s := newTestService(clock, wall, &scriptedCamera{}, sender, &fakeConn{up: true})

	// Cross the window; the frame captured this iteration must carry the
	// new chunk's identity, not the expired one.
	clock.tick = 1000
	wall.now = 1707429013.000
	s.iterate(context.Background())

	if len(sender.calls) != 1 {
		t.Fatalf("transmits = %d, want 1", len(sender.calls))
	}
	got := sender.calls[0].meta
	if got.ChunkID != 2 || got.ChunkStart != 1707429013.000 {
		t.Errorf("meta = %+v, want chunk 2 @ 1707429013.000", got)
	}
}

func TestPausedIterationsCaptureNothing(t *testing.T) {
	clock := &tickClock{}
	wall := &fixedWall{now: 1707429012.456}
	cam := &scriptedCamera{}
	sender := &fakeSender{}
	s := newTestService(clock, wall, cam, sender, &fakeConn{up: true})

	if err := s.pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	s.iterate(context.Background())
	if cam.captures != 0 || len(sender.calls) != 0 {
		t.Errorf("paused iteration did work: captures=%d transmits=%d", cam.captures, len(sender.calls))
	}

	if err := s.resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	s.iterate(context.Background())
	if cam.captures != 1 || len(sender.calls) != 1 {
		t.Errorf("resume did not restore capture: captures=%d transmits=%d", cam.captures, len(sender.calls))
	}
}
