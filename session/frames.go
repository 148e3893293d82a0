package session

import "time"

// FrameCounter derives a rolling frame rate from frame arrival times.
type FrameCounter struct {
	start   time.Time
	started bool
	count   int
}

// Tick records one frame arriving at now. Once more than a second has elapsed since the
// current window started, it returns the rate over that window and starts a new one.
// The frame being recorded counts towards the new window.
func (c *FrameCounter) Tick(now time.Time) (float64, bool) {
	if !c.started {
		c.start = now
		c.started = true
	}
	var (
		rate float64
		ok   bool
	)
	if dt := now.Sub(c.start); dt > time.Second {
		if c.count > 0 {
			rate = float64(c.count) / dt.Seconds()
			ok = true
		}
		c.start = now
		c.count = 0
	}
	c.count++
	return rate, ok
}

// Reset forgets the current window, e.g. after a reconnect.
func (c *FrameCounter) Reset() {
	*c = FrameCounter{}
}
