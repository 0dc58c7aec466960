package scheduler

import "time"

// RetryStrategy defines how long to wait before re-dispatching a failed task.
type RetryStrategy interface {
	// NextRetry calculates the delay before the given attempt (1-based).
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff between retries.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the next retry delay using exponential backoff.
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= s.Multiplier
	}
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// NoDelay retries immediately. Used in tests and for executors that do their
// own pacing.
type NoDelay struct{}

// NextRetry implements RetryStrategy.
func (NoDelay) NextRetry(int) time.Duration { return 0 }
