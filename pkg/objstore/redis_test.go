package objstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedis(t *testing.T) {
	testContainer(t, func(t testing.TB) Container {
		client, _ := newTestRedisClient(t)
		return NewRedis(client, "pool0", "cont0")
	})
}

func TestRedisNamespaces(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestRedisClient(t)
	a := NewRedis(client, "pool0", "a")
	b := NewRedis(client, "pool0", "b")
	require.NoError(t, a.BulkPut(ctx, map[string][]byte{"k": []byte("v")}))

	require.True(t, mr.Exists("pool0/a/k"))
	n, err := b.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.ErrorIs(t, b.Delete(ctx, "k"), ErrNotFound)
}

func TestRedisOpenerUnavailable(t *testing.T) {
	client, mr := newTestRedisClient(t)
	open := RedisOpener(client)
	_, err := open(context.Background(), "p", "c")
	require.NoError(t, err)

	mr.Close()
	_, err = open(context.Background(), "p", "c")
	require.ErrorIs(t, err, ErrStoreUnavailable)
}
