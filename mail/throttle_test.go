package mail

import (
	"context"
	"testing"

	"github.com/kasuganosora/dmail/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	th := NewThrottle(c, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		reached, err := th.Reached(ctx, 1)
		require.NoError(t, err)
		assert.False(t, reached)
		require.NoError(t, th.Record(ctx, 1))
	}
	reached, err := th.Reached(ctx, 1)
	require.NoError(t, err)
	assert.True(t, reached)

	reached, _ = th.Reached(ctx, 2)
	assert.False(t, reached, "counters are per user")
}

func TestThrottle_ReachedDoesNotCount(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	th := NewThrottle(c, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		reached, err := th.Reached(ctx, 1)
		require.NoError(t, err)
		assert.False(t, reached)
	}
	require.NoError(t, th.Record(ctx, 1))
	reached, err := th.Reached(ctx, 1)
	require.NoError(t, err)
	assert.True(t, reached)
}

func TestThrottle_Disabled(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	for _, th := range []*Throttle{nil, NewThrottle(nil, 5), NewThrottle(c, 0)} {
		for i := 0; i < 10; i++ {
			require.NoError(t, th.Record(context.Background(), 1))
			reached, err := th.Reached(context.Background(), 1)
			require.NoError(t, err)
			assert.False(t, reached)
		}
	}
}
