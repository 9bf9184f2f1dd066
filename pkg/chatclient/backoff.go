package chatclient

import "time"

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Backoff counts reconnection attempts. Attempt n waits n times the base
// delay; after max attempts it gives up until Reset.
type Backoff struct {
	attempt int
	max     int
	base    time.Duration
}

func NewBackoff(max int, base time.Duration) *Backoff {
	return &Backoff{max: max, base: base}
}

// OnDisconnect advances the state machine and returns how long to wait
// before the next attempt, or false when no attempts are left.
func (b *Backoff) OnDisconnect() (time.Duration, bool) {
	if b.attempt >= b.max {
		return 0, false
	}
	b.attempt++
	return time.Duration(b.attempt) * b.base, true
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	return b.attempt
}
