package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errFlaky = errors.New("503")

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	var retried []int
	err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Delay:       Constant(time.Millisecond),
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}, func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ReturnsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: Constant(time.Millisecond)}, func(context.Context) error {
		calls++
		if calls < 2 {
			return errFlaky
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableErrorStopsImmediately(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return errors.Is(err, errFlaky) },
	}, func(context.Context) error {
		calls++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDo_SingleAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 1}, func(context.Context) error {
		calls++
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelDuringPause(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Do(ctx, Policy{MaxAttempts: 10, Delay: Constant(time.Second)}, func(context.Context) error {
		return errFlaky
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExponential(t *testing.T) {
	delay := Exponential(time.Second, 5*time.Second)

	assert.Equal(t, time.Second, delay(1))
	assert.Equal(t, 2*time.Second, delay(2))
	assert.Equal(t, 4*time.Second, delay(3))
	assert.Equal(t, 5*time.Second, delay(4))
	assert.Equal(t, 5*time.Second, delay(10))
}
