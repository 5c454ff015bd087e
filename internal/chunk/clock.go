package chunk

import "time"

// Clock yields opaque monotonic millisecond ticks for measuring elapsed
// chunk duration. Ticks are uint32 and wrap at 2^32 ms (~49.7 days);
// consumers must use modular subtraction on deltas.
type Clock interface {
	Ticks() uint32
}

// WallClock yields epoch seconds for labelling chunks. It is satisfied by
// timesync.Source; the timer only needs the sampling half of it.
type WallClock interface {
	Now() float64
}

// SystemClock derives ticks from the runtime monotonic clock, anchored at
// process start so the counter behaves like an embedded ticks_ms source.
type SystemClock struct {
	base time.Time
}

// NewSystemClock creates a SystemClock anchored at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{base: time.Now()}
}

// Ticks returns elapsed milliseconds since the anchor, truncated to uint32.
func (c *SystemClock) Ticks() uint32 {
	return uint32(time.Since(c.base).Milliseconds())
}
