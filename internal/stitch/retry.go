package stitch

import (
	"context"
	"errors"
	"time"

	"stitchd/pkg/platform/sentinel"
)

const (
	// DefaultRetries matches the original operational policy: one initial
	// attempt plus three retries on transient conflicts.
	DefaultRetries = 3
	// DefaultMinBackoff is the delay before the first retry; each further
	// retry doubles it.
	DefaultMinBackoff = 100 * time.Millisecond
)

// RetryPolicy retries an operation on transient store conflicts only. Any
// other error, including ErrUnknownUser, propagates immediately. Exhausting
// the budget surfaces the last conflict to the caller.
type RetryPolicy struct {
	Retries    int
	MinBackoff time.Duration

	// OnRetry, when set, observes each retry before its backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy returns the policy used in production.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: DefaultRetries, MinBackoff: DefaultMinBackoff}
}

// Do runs op, retrying per the policy. The context cancels waiting between
// attempts; op itself is expected to honor the same context.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	backoff := p.MinBackoff
	if backoff <= 0 {
		backoff = DefaultMinBackoff
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !errors.Is(err, sentinel.ErrTransientConflict) {
			return err
		}
		if attempt >= p.Retries {
			return err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
