package entitlement_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/speakbill/pkg/cache"
	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

type checkerFunc func(ctx context.Context, userID uuid.UUID, f plan.Feature) (entitlement.Decision, error)

func (fn checkerFunc) Check(ctx context.Context, userID uuid.UUID, f plan.Feature) (entitlement.Decision, error) {
	return fn(ctx, userID, f)
}

func TestCachedResolver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("decisions are cached until ttl", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		next := checkerFunc(func(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
			calls.Add(1)
			return entitlement.Decision{Allowed: true, PlanKey: "pro"}, nil
		})
		clock := epoch
		c := entitlement.NewCachedResolver(next, time.Minute, 16, cache.WithClock(func() time.Time { return clock }))
		user := uuid.New()

		for range 3 {
			d, err := c.Check(ctx, user, plan.FeatureTTS)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}
		assert.Equal(t, int32(1), calls.Load())

		clock = clock.Add(2 * time.Minute)
		_, err := c.Check(ctx, user, plan.FeatureTTS)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())

		c.Invalidate(user)
		_, err = c.Check(ctx, user, plan.FeatureTTS)
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		next := checkerFunc(func(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
			if calls.Add(1) == 1 {
				return entitlement.Decision{}, errors.New("db down")
			}
			return entitlement.Decision{Allowed: true, PlanKey: "pro"}, nil
		})
		c := entitlement.NewCachedResolver(next, time.Minute, 16)
		user := uuid.New()

		_, err := c.Check(ctx, user, plan.FeatureTTS)
		require.Error(t, err)

		d, err := c.Check(ctx, user, plan.FeatureTTS)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int32(2), calls.Load())
	})
}
