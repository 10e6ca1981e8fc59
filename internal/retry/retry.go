// Package retry runs operations under a bounded retry policy with fixed or
// exponential delays. Callers classify each attempt as an Outcome instead of
// signalling retries through errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Outcome classifies a single attempt.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy configures retries. MaxRetries counts retries after the first
// attempt, so MaxRetries=2 allows three attempts.
type Policy struct {
	MaxRetries int           `yaml:"maxRetries"`
	Delay      time.Duration `yaml:"delay"`
	Backoff    Backoff       `yaml:"backoff"`
	MaxDelay   time.Duration `yaml:"maxDelay"`
	Multiplier float64       `yaml:"multiplier"`
}

// Validate checks that the policy can be executed.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must not be negative")
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	switch p.Backoff {
	case "", BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff %q", p.Backoff)
	}
	return nil
}

// DelayFor returns the wait before retry number n (1-based).
func (p Policy) DelayFor(n int) time.Duration {
	if n < 1 || p.Delay <= 0 {
		return 0
	}
	delay := p.Delay
	if p.Backoff == BackoffExponential {
		mult := p.Multiplier
		if mult <= 1 {
			mult = 2
		}
		delay = time.Duration(float64(p.Delay) * math.Pow(mult, float64(n-1)))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// String renders the policy for logs.
func (p Policy) String() string {
	backoff := p.Backoff
	if backoff == "" {
		backoff = BackoffFixed
	}
	return fmt.Sprintf("%d retries, %s %s", p.MaxRetries, backoff, p.Delay)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the wall-clock SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Attempt is one try of the operation. Returning Success ignores err.
type Attempt func(ctx context.Context, attempt int) (Outcome, error)

// Do runs fn until it succeeds, fails fatally, or the policy is exhausted.
// It returns the number of attempts made.
func Do(ctx context.Context, p Policy, sleep SleepFunc, fn Attempt) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%w: %w", err, lastErr)
			}
			return attempt - 1, err
		}

		outcome, err := fn(ctx, attempt)
		switch outcome {
		case Success:
			return attempt, nil
		case Fatal:
			return attempt, err
		}
		lastErr = err

		if attempt <= p.MaxRetries {
			if sleepErr := sleep(ctx, p.DelayFor(attempt)); sleepErr != nil {
				return attempt, fmt.Errorf("%w: %w", sleepErr, lastErr)
			}
		}
	}

	return p.MaxRetries + 1, fmt.Errorf("%w after %d attempt(s): %w", ErrExhausted, p.MaxRetries+1, lastErr)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Classify maps an error from an operation onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	if IsPermanent(err) {
		return Fatal
	}
	return Retryable
}

// IsTransientNetwork reports whether err looks like a dropped or refused
// connection.
func IsTransientNetwork(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"no such host",
		"temporary failure",
		"network is unreachable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
