// Package transfer moves files in and out of chunked storage. Each workflow
// spans the metadata catalog and a container and is not atomic across the
// two: a record is written before its chunks and removed after them, with a
// status that lets Reconcile finish or undo interrupted work.
package transfer

import (
	"context"
	"time"

	"ChunkVault/pkg/chunk"
	"ChunkVault/pkg/meta"
	"ChunkVault/pkg/metrics"
	"ChunkVault/pkg/objstore"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Options struct {
	// ChunkSize applies to every upload made by this orchestrator.
	ChunkSize int
	// OutputDir receives "<key>.dat" files written by Read.
	OutputDir string
	// ProbeWindow is how many chunk indices each probing BulkGet asks for.
	ProbeWindow int
	// PendingGrace protects uploads still in flight from Reconcile.
	PendingGrace time.Duration
	Logger       zerolog.Logger
	Metrics      *metrics.Transfer
}

const (
	DefaultProbeWindow  = 64
	DefaultPendingGrace = time.Hour
)

type Orchestrator struct {
	meta   meta.Store
	res    *objstore.Resolver
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

func New(store meta.Store, res *objstore.Resolver, opts Options) (*Orchestrator, error) {
	if opts.ChunkSize <= 0 {
		return nil, chunk.ErrInvalidChunkSize
	}
	if opts.ProbeWindow <= 0 {
		opts.ProbeWindow = DefaultProbeWindow
	}
	if opts.PendingGrace <= 0 {
		opts.PendingGrace = DefaultPendingGrace
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "uploads"
	}
	return &Orchestrator{
		meta:   store,
		res:    res,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
	}, nil
}

func (o *Orchestrator) ChunkSize() int { return o.opts.ChunkSize }

// List returns every catalog record ordered by key.
func (o *Orchestrator) List(ctx context.Context) ([]meta.Record, error) {
	return o.meta.List(ctx)
}

func (o *Orchestrator) lock(ctx context.Context, key string) (func(), error) {
	l, ok := o.meta.(meta.KeyLocker)
	if !ok {
		return func() {}, nil
	}
	return l.LockKey(ctx, key)
}

// chunks loads the chunk sequence for key. With count > 0 exactly indices
// 0..count-1 are fetched and missing ones are nil. Otherwise indices are
// probed in windows until the first miss. elapsed covers only BulkGet calls.
func (o *Orchestrator) chunks(ctx context.Context, c objstore.Container, key string, count int) (out [][]byte, elapsed time.Duration, err error) {
	if count > 0 {
		keys := chunk.Keys(key, 0, count)
		start := time.Now()
		got, err := c.BulkGet(ctx, keys)
		elapsed = time.Since(start)
		if err != nil {
			return nil, elapsed, errors.Wrap(err, "bulk get")
		}
		out = make([][]byte, count)
		for i, k := range keys {
			out[i] = got[k]
		}
		return out, elapsed, nil
	}
	w := o.opts.ProbeWindow
	for from := 0; ; from += w {
		keys := chunk.Keys(key, from, from+w)
		start := time.Now()
		got, err := c.BulkGet(ctx, keys)
		elapsed += time.Since(start)
		if err != nil {
			return nil, elapsed, errors.Wrap(err, "bulk get")
		}
		for _, k := range keys {
			v, ok := got[k]
			if !ok {
				return out, elapsed, nil
			}
			out = append(out, v)
		}
	}
}

func countPresent(chunks [][]byte) (n int, bytes int64) {
	for _, c := range chunks {
		if c != nil {
			n++
			bytes += int64(len(c))
		}
	}
	return n, bytes
}
