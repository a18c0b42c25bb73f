package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
)

// Policy bounds optimistic write loops. Retryable decides which errors are worth another attempt;
// everything else is returned to the caller untouched.
type Policy struct {
	Attempts  int
	Initial   time.Duration
	Max       time.Duration
	Retryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:  5,
		Initial:   10 * time.Millisecond,
		Max:       200 * time.Millisecond,
		Retryable: IsStaleWrite,
	}
}

func IsStaleWrite(err error) bool {
	return errors.Is(err, domain.ErrStaleWrite)
}

// Do runs op until it succeeds, returns a non-retryable error, or the attempt budget is spent.
// An exhausted budget is reported as domain.ErrConflict.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = IsStaleWrite
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx))

	if err == nil {
		return nil
	}
	if p.Retryable(err) {
		return errors.Wrapf(domain.ErrConflict, "gave up after %d attempts: %v", attempt, err)
	}
	return err
}
