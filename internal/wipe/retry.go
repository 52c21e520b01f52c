package wipe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"disksanitizer/internal/logging"
)

// RetryPolicy bounds firmware retries: the delay starts at Initial, doubles,
// and is capped at Max. MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration

	// Timer is nil in production; tests inject one that does not sleep.
	Timer  backoff.Timer
	Logger *logging.Logger
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = p.Max
	exp.MaxElapsedTime = 0

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Do runs op until it succeeds, returns an ErrUnavailable error, or the
// attempt budget is spent. It returns the number of tries and the last error.
func (p RetryPolicy) Do(ctx context.Context, name string, op func() error) (int, error) {
	tries := 0
	operation := func() error {
		tries++
		err := op()
		if err != nil && errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		p.Logger.Log("WARN", "firmware command failed, retrying",
			"mechanism", name, "try", tries, "next_delay", next.String(), "error", err.Error())
	}

	err := backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), notify, p.Timer)
	return tries, err
}
