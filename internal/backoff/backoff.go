// Package backoff retries an operation with exponentially growing delays.
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	Attempts int           // total attempts, including the first
	Initial  time.Duration // delay after the first failure
	Factor   float64       // multiplier applied after each failure
	Max      time.Duration // upper bound on a single delay, 0 for none
	Jitter   float64       // extra random fraction of each delay, 0 for none
}

// Default is three attempts spaced 1s then 2s apart.
var Default = Policy{
	Attempts: 3,
	Initial:  time.Second,
	Factor:   2,
}

// Delay returns the wait after the given failed attempt (0-based), before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Factor
	}
	delay := time.Duration(d)
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retrier runs an operation under a Policy.
type Retrier struct {
	Policy Policy
	Sleep  SleepFunc

	// Notify is called before each wait with the failed attempt number (1-based).
	Notify func(attempt int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts run out
// or ctx is done. It returns the last error fn produced.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	attempts := r.Policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts-1 || ctx.Err() != nil {
			break
		}

		delay := r.Policy.Delay(attempt)
		if r.Policy.Jitter > 0 {
			delay += time.Duration(float64(delay) * r.Policy.Jitter * rand.Float64())
		}
		if r.Notify != nil {
			r.Notify(attempt+1, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}
