package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(5), func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsFixedAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(5), func(int) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	errDenied := errors.New("access denied")
	calls := 0
	err := Do(context.Background(), Fixed(5), func(int) error {
		calls++
		return Permanent(errDenied)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errDenied)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDoHonoursWallClockBudget(t *testing.T) {
	policy := Policy{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      2,
		MaxElapsed:      40 * time.Millisecond,
	}
	require.NoError(t, policy.Validate())

	calls := 0
	start := time.Now()
	err := Do(context.Background(), policy, func(int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.GreaterOrEqual(t, calls, 2)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoStopsWhenContextIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 100, InitialInterval: time.Millisecond}, func(int) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, calls)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"fixed", Fixed(5), false},
		{"unbounded", Policy{}, true},
		{"budget only", Policy{MaxElapsed: time.Minute}, false},
		{"negative attempts", Policy{MaxAttempts: -1}, true},
		{"jitter out of range", Policy{MaxAttempts: 3, Jitter: 1.5}, true},
		{"shrinking multiplier", Policy{MaxAttempts: 3, Multiplier: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
