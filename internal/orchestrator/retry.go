package orchestrator

import "time"

// RetryPolicy yields the backoff before retry attempt n (1-based).
type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// BoundedExponentialRetryPolicy doubles the delay per attempt up to a cap.
type BoundedExponentialRetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (p BoundedExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		if delay >= maxDelay {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

func defaultRetryPolicy() RetryPolicy {
	return BoundedExponentialRetryPolicy{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
	}
}
