package retry

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.Initial = time.Millisecond
	p.Max = 2 * time.Millisecond
	return p
}

func TestDo_SucceedsAfterStaleWrites(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.Wrap(domain.ErrStaleWrite, "version moved")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustedBudgetIsConflict(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return domain.ErrStaleWrite
	})

	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 5, calls)
}

func TestDo_BusinessErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), func(ctx context.Context) error {
		calls++
		return domain.ErrOutOfStock
	})

	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := fastPolicy()
	p.Initial = 50 * time.Millisecond
	err := Do(ctx, p, func(ctx context.Context) error {
		return domain.ErrStaleWrite
	})

	assert.Error(t, err)
}
