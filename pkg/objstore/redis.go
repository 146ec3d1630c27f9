package objstore

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis used by Redis, so tests can point it
// at miniredis or a fake.
type RedisClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	MSet(ctx context.Context, values ...any) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

var _ Container = &Redis{}

// Redis namespaces a container's entries as "<pool>/<container>/<key>" in one
// redis database.
type Redis struct {
	client RedisClient
	prefix string
}

func NewRedis(client RedisClient, pool, container string) *Redis {
	return &Redis{client: client, prefix: containerID(pool, container) + "/"}
}

func (r *Redis) BulkGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	for i, v := range vals {
		switch s := v.(type) {
		case string:
			out[keys[i]] = []byte(s)
		case []byte:
			out[keys[i]] = s
		}
	}
	return out, nil
}

// BulkPut relies on MSET being atomic: all entries land or none do.
func (r *Redis) BulkPut(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	pairs := make([]any, 0, 2*len(entries))
	for k, v := range entries {
		pairs = append(pairs, r.prefix+k, v)
	}
	return errors.Wrap(r.client.MSet(ctx, pairs...).Err(), "redis mset")
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return errors.Wrap(err, "redis del")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "key %q", key)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := globEscape(r.prefix) + "*"
	for {
		page, next, err := r.client.Scan(ctx, cursor, match, 512).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis scan")
		}
		for _, k := range page {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	keys, err := r.Keys(ctx)
	return len(keys), err
}

func (r *Redis) Close() error { return nil }

func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// RedisOpener binds every pool/container to a namespace on one client. Each
// open pings the server so an unreachable one surfaces as ErrStoreUnavailable
// during discovery.
func RedisOpener(client *redis.Client) Opener {
	return func(ctx context.Context, pool, container string) (Container, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrapf(ErrStoreUnavailable, "redis ping: %v", err)
		}
		return NewRedis(client, pool, container), nil
	}
}
