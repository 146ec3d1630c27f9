package objstore

import (
	"context"
	"sync"

	"ChunkVault/pkg/hashring"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Target is a container available for new uploads. Targets weights how often
// discovery prefers it.
type Target struct {
	Pool      string `yaml:"pool" json:"pool"`
	Container string `yaml:"container" json:"container"`
	Targets   int    `yaml:"targets" json:"targets"`
}

func (t Target) ID() string { return containerID(t.Pool, t.Container) }

// Resolver picks and opens containers. Opened containers are cached until
// Close.
type Resolver struct {
	targets []Target
	byID    map[string]Target
	ring    *hashring.Ring
	open    Opener
	logger  zerolog.Logger

	mu    sync.Mutex
	cache map[string]Container
}

func NewResolver(targets []Target, open Opener) *Resolver {
	nodes := make([]hashring.Node, 0, len(targets))
	byID := make(map[string]Target, len(targets))
	for _, t := range targets {
		nodes = append(nodes, hashring.Node{ID: t.ID(), Weight: t.Targets})
		byID[t.ID()] = t
	}
	return &Resolver{
		targets: targets,
		byID:    byID,
		ring:    hashring.New(nodes, 64),
		open:    open,
		logger:  zerolog.Nop(),
		cache:   make(map[string]Container),
	}
}

func (r *Resolver) SetLogger(l zerolog.Logger) { r.logger = l }

// Targets returns every configured container.
func (r *Resolver) Targets() []Target {
	return append([]Target(nil), r.targets...)
}

// Pick returns the first container in key's ring order that opens. Containers
// that fail to open are skipped.
func (r *Resolver) Pick(ctx context.Context, key string) (Container, Target, error) {
	nodes := r.ring.PickN(key, r.ring.Len())
	if len(nodes) == 0 {
		return nil, Target{}, errors.Wrap(ErrStoreUnavailable, "no containers configured")
	}
	var lastErr error
	for _, n := range nodes {
		t := r.byID[n.ID]
		c, err := r.Open(ctx, t.Pool, t.Container)
		if err != nil {
			r.logger.Warn().Err(err).Str("pool", t.Pool).Str("container", t.Container).Msg("container unavailable, trying next")
			lastErr = err
			continue
		}
		return c, t, nil
	}
	return nil, Target{}, errors.Wrapf(ErrStoreUnavailable, "all %d containers failed, last: %v", len(nodes), lastErr)
}

// Open returns the container for a pool/container pair, which need not be
// one of the configured targets.
func (r *Resolver) Open(ctx context.Context, pool, container string) (Container, error) {
	id := containerID(pool, container)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[id]; ok {
		return c, nil
	}
	c, err := r.open(ctx, pool, container)
	if err != nil {
		if !errors.Is(err, ErrStoreUnavailable) {
			err = errors.Wrapf(ErrStoreUnavailable, "open %s: %v", id, err)
		}
		return nil, err
	}
	r.cache[id] = c
	return c, nil
}

func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for id, c := range r.cache {
		if err := c.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", id)
		}
		delete(r.cache, id)
	}
	return first
}
