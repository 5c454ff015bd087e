package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/visiona/camlink/internal/chunk"
	"github.com/visiona/camlink/internal/uplink"
)

// runLoop drives iterations until ctx is done. The loop itself never
// terminates on failure; every steady-state error is logged and absorbed.
func (s *Service) runLoop(ctx context.Context) {
	for ctx.Err() == nil {
		s.iterate(ctx)
	}
}

// iterate performs one loop cycle: the connectivity gate, at most one
// chunk rollover, one capture, one transmit, one sleep.
func (s *Service) iterate(ctx context.Context) {
	s.mu.Lock()
	s.stats.iterations++
	s.mu.Unlock()

	// Step 1: while disconnected nothing runs, including rollover
	// checks, so no chunks are consumed during an outage.
	if !s.conn.Connected() {
		s.mu.Lock()
		s.stats.offlineIterations++
		s.mu.Unlock()

		slog.Debug("disconnected, skipping iteration")
		s.sleep(ctx, s.offlineBackoff)
		return
	}

	if s.paused() {
		s.sleep(ctx, s.idleInterval)
		return
	}

	// Step 2: at most one rollover per iteration, even after a long
	// stall; a delayed loop never synthesizes missed chunks.
	if s.timer.ShouldRollover(s.clock.Ticks()) {
		st := s.timer.StartNewChunk()
		s.noteRollover(st)
	}

	// Step 3: pin chunk identity before capture begins; the frame bears
	// this pair no matter what the timer does afterwards.
	chunkID, chunkStart := s.timer.Snapshot()

	// Step 4: one capture attempt, no in-iteration retry.
	frame, err := s.camera.Capture(ctx)
	if err != nil {
		s.mu.Lock()
		s.stats.captureFailures++
		s.mu.Unlock()

		slog.Warn("capture failed, skipping transmission",
			"chunk_id", chunkID,
			"error", err,
		)
		s.sleep(ctx, s.idleInterval)
		return
	}

	// Steps 5-6: one transmit attempt; the frame buffer is released on
	// every path once the attempt finishes. A failed transmit drops the
	// frame.
	status, err := s.uplink.Send(ctx, frame.Data,
		uplink.Meta{ChunkID: chunkID, ChunkStart: chunkStart}, frame.TraceID)
	frame.Release()

	if err != nil {
		s.mu.Lock()
		s.stats.transmitFailures++
		s.mu.Unlock()

		slog.Warn("transmit failed, frame dropped",
			"chunk_id", chunkID,
			"error", err,
		)
	} else {
		s.mu.Lock()
		s.stats.framesSent++
		s.mu.Unlock()

		slog.Debug("frame transmitted",
			"chunk_id", chunkID,
			"chunk_start", chunkStart,
			"status", status,
		)
	}

	// Step 7: yield before the next iteration.
	s.sleep(ctx, s.idleInterval)
}

// noteRollover records a rollover and journals the new chunk ID. Journal
// failures are logged, never fatal.
func (s *Service) noteRollover(st chunk.State) {
	s.mu.Lock()
	s.stats.rollovers++
	s.mu.Unlock()

	if err := s.journal.Save(st.ChunkID); err != nil {
		slog.Warn("failed to journal chunk id", "chunk_id", st.ChunkID, "error", err)
	}
}

// connectivityChanged publishes a settled connectivity transition to the
// events topic.
func (s *Service) connectivityChanged(up bool) {
	state := "offline"
	if up {
		state = "online"
	}
	slog.Info("connectivity state settled", "state", state)

	if s.emitter == nil {
		return
	}
	payload := []byte(`{"event":"connectivity","state":"` + state + `"}`)
	if err := s.emitter.PublishEvent(payload); err != nil {
		slog.Warn("failed to publish connectivity event", "error", err)
	}
}

// sleep waits for d or until ctx is done.
func (s *Service) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
