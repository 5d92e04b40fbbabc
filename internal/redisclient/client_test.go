package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "lock:order:42", lockName("order:42"))
	assert.Equal(t, "idempotency:abc", idempotencyName("abc"))
}

func testClient(t *testing.T) *Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLock_ExclusiveUntilReleased(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "order:" + uuid.New().String()

	token, ok, err := c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign token must not free the lock
	require.NoError(t, c.ReleaseLock(ctx, key, "someone-else"))
	_, ok, err = c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, token))
	_, ok, err = c.AcquireLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyKey(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := uuid.New().String()

	val, err := c.GetIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.SetIdempotencyKey(ctx, key, "order-1", time.Minute))

	val, err = c.GetIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "order-1", val)
}
