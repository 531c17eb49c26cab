package models

import "time"

const DefaultStepTimeout = 10 * time.Second

type RetryConfig struct {
	MaxRetryCount    int
	RetryIntervalMin time.Duration
	RetryIntervalMax time.Duration
	StepTimeout      time.Duration
}

// Backoff returns the delay before retry number retryNum (0 based): RetryIntervalMin doubled per
// attempt and capped at RetryIntervalMax.
func (rc *RetryConfig) Backoff(retryNum int) time.Duration {
	if retryNum <= 0 {
		return rc.RetryIntervalMin
	}
	d := rc.RetryIntervalMin
	for i := 0; i < retryNum; i++ {
		d *= 2
		if d >= rc.RetryIntervalMax || d <= 0 {
			return rc.RetryIntervalMax
		}
	}
	return d
}

// Exhausted reports whether attempts of a single step have used up the retry budget.
func (rc *RetryConfig) Exhausted(attempts int) bool {
	return attempts >= rc.MaxRetryCount
}

func (rc *RetryConfig) Timeout() time.Duration {
	if rc.StepTimeout <= 0 {
		return DefaultStepTimeout
	}
	return rc.StepTimeout
}

// CollaboratorTimeout is the deadline handed to collaborators that have a fallback. It ends before the
// step timeout so their fallback value still completes the step.
func (rc *RetryConfig) CollaboratorTimeout() time.Duration {
	t := rc.Timeout()
	return t - min(t/5, time.Second)
}
