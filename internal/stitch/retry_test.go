package stitch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"stitchd/pkg/platform/sentinel"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{Retries: retries, MinBackoff: time.Millisecond}
}

func TestRetryPolicy_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_RetriesTransientConflict(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("merge identity: %w", sentinel.ErrTransientConflict)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_ExhaustsBudget(t *testing.T) {
	calls := 0
	conflict := fmt.Errorf("deadlock detected: %w", sentinel.ErrTransientConflict)

	var retries []int
	policy := fastPolicy(3)
	policy.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return conflict
	})

	// One initial attempt plus exactly the retry budget, and the original
	// conflict is what surfaces.
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retries)
	assert.ErrorIs(t, err, sentinel.ErrTransientConflict)
}

func TestRetryPolicy_DoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	terminal := errors.New("constraint violation")

	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return terminal
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_DoesNotRetryUnknownUser(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return ErrUnknownUser
	})

	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextCancelsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{Retries: 5, MinBackoff: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(context.Context) error {
			calls++
			return sentinel.ErrTransientConflict
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}
