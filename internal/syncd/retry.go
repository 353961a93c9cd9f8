package syncd

import (
	"time"

	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// retryPolicy wraps a sync sub-step in bounded attempts with doubling
// backoff. Non-retryable failures stop immediately.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     func(time.Duration)
}

func (p retryPolicy) do(name string, fn func() error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.baseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !types.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		logging.Sync("%s attempt %d/%d failed, retrying in %v: %v", name, attempt, attempts, delay, err)
		p.sleep(delay)
		delay *= 2
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}
	return lastErr
}
