// Package chunk owns chunk identity and timing for the capture loop.
//
// A chunk is a fixed-duration time window. Every captured frame is tagged
// with the identity of the chunk that was current when capture began:
// a strictly increasing chunk ID and the wall-clock instant the chunk
// started. Rollover timing is measured on a monotonic tick counter so
// wall-clock jumps (NTP resync, manual set) never distort chunk length.
package chunk

import (
	"log/slog"
	"math"
	"sync"
)

// Timestamps below this epoch floor (2001-09-09) can only come from an
// unsynchronized clock still counting from its power-on default. They are
// replaced by 0.0 so the collector can tell "unlabelled" from "garbage".
const minValidEpoch = 1e9

// State is the persistent chunk identity. It is mutated exclusively by
// Timer.StartNewChunk; there is exactly one writer (the capture loop).
type State struct {
	// ChunkID counts rollovers, starting at 0 and incremented by exactly
	// 1 per rollover. It never wraps silently (see StartNewChunk).
	ChunkID uint64
	// ChunkStart is the wall-clock chunk start in epoch seconds with
	// sub-second precision, or 0.0 when the clock was unsynchronized.
	ChunkStart float64

	// startTick is the monotonic tick sampled at the same rollover
	// instant; it exists only to measure elapsed chunk duration.
	startTick uint32
}

// Timer maintains State and decides chunk boundaries. Rollovers come from
// the capture loop only, but Snapshot and DurationMS are also read by the
// health and control goroutines, so state is guarded by mu.
type Timer struct {
	clock Clock
	wall  WallClock

	mu         sync.Mutex
	durationMS uint32
	state      State
}

// NewTimer creates a Timer with ChunkID 0. The first StartNewChunk call
// advances it to 1 before any capture happens.
func NewTimer(clock Clock, wall WallClock, durationMS uint32) *Timer {
	return &Timer{
		clock:      clock,
		wall:       wall,
		durationMS: durationMS,
	}
}

// Seed fast-forwards the counter to lastID, so IDs issued after a process
// restart continue the persisted sequence. Only meaningful before the
// first rollover.
func (t *Timer) Seed(lastID uint64) {
	t.mu.Lock()
	t.state.ChunkID = lastID
	t.mu.Unlock()
}

// SetDurationMS updates the chunk window length. Takes effect at the next
// rollover check.
func (t *Timer) SetDurationMS(ms uint32) {
	if ms == 0 {
		return
	}
	t.mu.Lock()
	t.durationMS = ms
	t.mu.Unlock()
}

// DurationMS returns the configured chunk window length.
func (t *Timer) DurationMS() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationMS
}

// StartNewChunk begins a new chunk: increments the ID, records the current
// monotonic tick, and samples the wall clock for the chunk label. Returns
// the new state snapshot.
func (t *Timer) StartNewChunk() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.ChunkID == math.MaxUint64 {
		// Practically unreachable; refusing to wrap keeps the strict
		// monotonicity contract observable instead of silently violated.
		slog.Error("chunk id at maximum, refusing to wrap", "chunk_id", t.state.ChunkID)
		return t.state
	}

	t.state.ChunkID++
	t.state.startTick = t.clock.Ticks()

	ts := t.wall.Now()
	if ts < minValidEpoch {
		ts = 0.0
	}
	t.state.ChunkStart = ts

	return t.state
}

// ShouldRollover reports whether the current chunk window has elapsed.
// The subtraction is computed in uint32 modular arithmetic, so a wrapped
// tick counter still yields the correct small delta.
func (t *Timer) ShouldRollover(nowTick uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return nowTick-t.state.startTick >= t.durationMS
}

// Snapshot returns the current immutable (ChunkID, ChunkStart) pair.
// Repeated calls without an intervening StartNewChunk return identical
// values.
func (t *Timer) Snapshot() (uint64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.ChunkID, t.state.ChunkStart
}
