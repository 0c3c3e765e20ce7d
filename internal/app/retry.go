package app

import (
	"fmt"
	"math/rand"
	"time"
)

// Default retry policy values.
const (
	DefaultRetryMaxAttempts = 10
	DefaultRetryBaseDelay   = 5 * time.Second
	DefaultRetryMaxDelay    = 10 * time.Minute
)

// RetryPolicy schedules automatic retries of records whose sync failed.
// A failed record becomes eligible again after an exponentially growing,
// jittered delay until it has failed MaxAttempts times; from then on only
// an operator requeue brings it back. MaxAttempts <= 0 disables automatic
// retries entirely.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
}

// DefaultRetryPolicy returns the built-in policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultRetryMaxAttempts,
		BaseDelay:   DefaultRetryBaseDelay,
		MaxDelay:    DefaultRetryMaxDelay,
	}
}

// Validate checks the policy for consistency.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must not be negative, got %d", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("retry base delay must be positive, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay returns the wait before retrying a record that has failed
// `failures` times, with ±20% jitter. rnd returns values in [0, 1).
func (p RetryPolicy) Delay(failures int, rnd func() float64) time.Duration {
	d := p.BaseDelay
	for i := 1; i < failures && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	if rnd == nil {
		rnd = rand.Float64
	}
	jitter := float64(d) * 0.2 * (rnd()*2 - 1)
	return time.Duration(float64(d) + jitter)
}

// NextAttempt returns when a record failing for the `failures`-th time may
// be retried.
func (p RetryPolicy) NextAttempt(now time.Time, failures int, rnd func() float64) time.Time {
	return now.Add(p.Delay(failures, rnd))
}

// Exhausted reports whether a record with the given failure count is past
// automatic retries.
func (p RetryPolicy) Exhausted(failures int) bool {
	return p.MaxAttempts <= 0 || failures >= p.MaxAttempts
}
