package objstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var _ Container = &Mem{}

type Mem struct {
	mu      sync.RWMutex
	entries map[string][]byte
	// FailPut, when set, is returned by BulkPut without writing anything.
	FailPut error
}

func NewMem() *Mem {
	return &Mem{entries: make(map[string][]byte)}
}

func (m *Mem) BulkGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.entries[k]; ok {
			out[k] = append([]byte{}, v...)
		}
	}
	return out, nil
}

func (m *Mem) BulkPut(ctx context.Context, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	for k, v := range entries {
		m.entries[k] = append([]byte{}, v...)
	}
	return nil
}

func (m *Mem) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return errors.Wrapf(ErrNotFound, "key %q", key)
	}
	delete(m.entries, key)
	return nil
}

func (m *Mem) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Mem) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Mem) Close() error { return nil }

// MemOpener hands out one Mem per pool/container for the life of the opener.
func MemOpener() Opener {
	var mu sync.Mutex
	conts := make(map[string]*Mem)
	return func(_ context.Context, pool, container string) (Container, error) {
		mu.Lock()
		defer mu.Unlock()
		id := containerID(pool, container)
		c, ok := conts[id]
		if !ok {
			c = NewMem()
			conts[id] = c
		}
		return c, nil
	}
}
