// Package objstore adapts key-value containers to the bulk operations used
// for chunk transfer, and resolves which container a key should live in.
package objstore

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("entry not found")
	ErrStoreUnavailable = errors.New("object store unavailable")
)

// Container is a capability bound to one pool/container pair.
type Container interface {
	// BulkGet fetches keys in one call. Absent keys are missing from the result.
	BulkGet(ctx context.Context, keys []string) (map[string][]byte, error)
	// BulkPut writes every entry or fails the whole batch.
	BulkPut(ctx context.Context, entries map[string][]byte) error
	// Delete removes key, returning ErrNotFound when it is absent.
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Opener returns the container for a pool/container pair.
type Opener func(ctx context.Context, pool, container string) (Container, error)

func containerID(pool, container string) string {
	return pool + "/" + container
}
