package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agentpay/internal/repository/redisstore"
)

func TestNonceStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	store := redisstore.NewNonceStore(rdb)
	addr := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	t.Run("single use", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, addr, "n-1", time.Minute))

		got, err := store.Consume(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "n-1", got)

		got, err = store.Consume(ctx, addr)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("newer nonce replaces older", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, addr, "n-1", time.Minute))
		require.NoError(t, store.Save(ctx, addr, "n-2", time.Minute))

		got, err := store.Consume(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "n-2", got)
	})

	t.Run("expires", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, addr, "n-3", time.Minute))
		mr.FastForward(61 * time.Second)

		got, err := store.Consume(ctx, addr)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
