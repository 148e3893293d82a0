package session

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ReconnectPolicy decides whether a session whose connection dropped should dial again.
type ReconnectPolicy interface {
	// Next is called with the number of consecutive failed attempts so far.
	// It returns how long to wait before the next attempt, or false to give up.
	Next(attempt int) (time.Duration, bool)
}

// NoReconnect never reconnects. A dropped session stays closed until it is recreated.
type NoReconnect struct{}

func (NoReconnect) Next(int) (time.Duration, bool) { return 0, false }

// Backoff reconnects up to MaxAttempts times with exponential backoff between Min and Max.
type Backoff struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
}

func (b Backoff) Next(attempt int) (time.Duration, bool) {
	if attempt >= b.MaxAttempts {
		return 0, false
	}
	return retryablehttp.DefaultBackoff(b.Min, b.Max, attempt, nil), true
}
