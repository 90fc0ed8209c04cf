package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSlotLocker(t *testing.T) {
	locker := NewLocalSlotLocker(time.Second)
	ctx := context.Background()

	err := locker.WithSlotLock(ctx, "doc:1", func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, "doc:1", func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		other := locker.WithSlotLock(ctx, "doc:2", func(context.Context) error { return nil })
		assert.NoError(t, other)

		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)

	// released after fn returns, even on error
	boom := errors.New("boom")
	assert.ErrorIs(t, locker.WithSlotLock(ctx, "doc:1", func(context.Context) error { return boom }), boom)
	assert.NoError(t, locker.WithSlotLock(ctx, "doc:1", func(context.Context) error { return nil }))
}
