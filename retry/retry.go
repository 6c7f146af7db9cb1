// Package retry contains the bounded retry policies used for calls to the object store and the
// annotation platform
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrExhausted is returned when a policy runs out of attempts or wall-clock budget
	ErrExhausted = errors.New("retries exhausted")
)

// ExhaustedError carries the number of attempts made and the last failure
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes both ErrExhausted and the last failure to errors.Is
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Policy describes how an operation is retried. A zero InitialInterval retries immediately.
// MaxAttempts of zero means the attempt count is unbounded and MaxElapsed must be set.
type Policy struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
	Multiplier      float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter          float64       `yaml:"jitter" mapstructure:"jitter"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" mapstructure:"max_elapsed"`
}

// Fixed returns a policy making at most attempts calls with no delay between them
func Fixed(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// Validate returns an error if the policy could retry forever or has out of range values
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", p.MaxAttempts)
	}

	if p.MaxAttempts == 0 && p.MaxElapsed <= 0 {
		return fmt.Errorf("either max attempts or max elapsed must be set")
	}

	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be between 0 and 1, got %f", p.Jitter)
	}

	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %f", p.Multiplier)
	}

	if p.InitialInterval < 0 || p.MaxInterval < 0 || p.MaxElapsed < 0 {
		return fmt.Errorf("intervals must not be negative")
	}

	return nil
}

func (p Policy) backOff() backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialInterval > 0 {
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = p.InitialInterval
		exponential.RandomizationFactor = p.Jitter
		exponential.Multiplier = 1
		if p.Multiplier > 0 {
			exponential.Multiplier = p.Multiplier
		}
		exponential.MaxInterval = p.InitialInterval
		if p.MaxInterval > p.InitialInterval {
			exponential.MaxInterval = p.MaxInterval
		}
		// budgetBackOff owns the wall-clock limit
		exponential.MaxElapsedTime = 0
		exponential.Reset()
		b = exponential
	}

	if p.MaxElapsed > 0 {
		b = &budgetBackOff{BackOff: b, budget: p.MaxElapsed, start: time.Now()}
	}

	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}

	return b
}

type budgetBackOff struct {
	backoff.BackOff
	budget time.Duration
	start  time.Time
}

func (b *budgetBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || time.Since(b.start)+next > b.budget {
		return backoff.Stop
	}

	return next
}

func (b *budgetBackOff) Reset() {
	b.start = time.Now()
	b.BackOff.Reset()
}

// Permanent marks err as not retryable. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the policy gives up or the context
// is done. op receives the 1-based attempt number.
func Do(ctx context.Context, policy Policy, op func(attempt int) error) error {
	attempts := 0
	permanent := false
	var last error

	err := backoff.Retry(func() error {
		attempts++
		err := op(attempts)
		var permanentErr *backoff.PermanentError
		if errors.As(err, &permanentErr) {
			permanent = true
		}

		last = err
		return err
	}, backoff.WithContext(policy.backOff(), ctx))
	if err == nil || permanent {
		return err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("Error retrying after %d attempts: %w (last error: %v)", attempts, ctx.Err(), last)
	}

	return &ExhaustedError{Attempts: attempts, Last: last}
}
