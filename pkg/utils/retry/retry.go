package retry

import (
	"fmt"
	"time"
)

// WithDelay calls fn until it succeeds or attempts run out, sleeping delay
// between calls. The last error is returned.
func WithDelay(attempts int, delay time.Duration, fn func() error) error {
	const op = "retry.WithDelay"

	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}

	return fmt.Errorf("%s: %d attempts failed: %w", op, attempts, err)
}
