package transfer

import (
	"context"

	"ChunkVault/pkg/chunk"
	"ChunkVault/pkg/meta"
	"ChunkVault/pkg/objstore"

	"github.com/pkg/errors"
)

type DeleteResult struct {
	Key           string `json:"key"`
	RecordRemoved bool   `json:"record_removed"`
	ChunksRemoved int    `json:"chunks_removed"`
}

// Delete removes key's chunks and then its record. The record is first marked
// deleting so an interrupted delete is finished by Reconcile. Without a record
// every configured container is probed for stray chunks.
//
// When no chunk was found the result is still returned, together with an
// error matching ErrNothingToDelete and ErrKeyNotFound.
func (o *Orchestrator) Delete(ctx context.Context, key string) (res *DeleteResult, retErr error) {
	defer func() { o.opts.Metrics.Op("delete", retErr) }()
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	unlock, err := o.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res = &DeleteResult{Key: key}
	rec, err := o.meta.Find(ctx, key)
	switch {
	case err == nil:
		if rec.Status != meta.StatusDeleting {
			rec.Status = meta.StatusDeleting
			if err := o.meta.Update(ctx, rec); err != nil {
				return nil, errors.Wrap(err, "mark record deleting")
			}
		}
		cont, err := o.res.Open(ctx, rec.Pool, rec.Container)
		if err != nil {
			return nil, err
		}
		n, err := o.deleteChunks(ctx, cont, key, rec.ChunkCount)
		res.ChunksRemoved = n
		if err != nil {
			return res, err
		}
		removed, err := o.meta.Delete(ctx, key)
		if err != nil {
			return res, errors.Wrap(err, "delete metadata record")
		}
		res.RecordRemoved = removed
	case errors.Is(err, meta.ErrNotFound):
		for _, t := range o.res.Targets() {
			cont, err := o.res.Open(ctx, t.Pool, t.Container)
			if err != nil {
				o.logger.Warn().Err(err).Str("pool", t.Pool).Str("container", t.Container).Msg("skipping unavailable container")
				continue
			}
			n, err := o.deleteChunks(ctx, cont, key, 0)
			res.ChunksRemoved += n
			if err != nil {
				return res, err
			}
		}
	default:
		return nil, errors.Wrap(err, "look up key")
	}

	o.logger.Info().Str("key", key).Bool("record", res.RecordRemoved).Int("chunks", res.ChunksRemoved).Msg("deleted")
	if res.ChunksRemoved == 0 {
		return res, errors.Wrapf(ErrNothingToDelete, "%q", key)
	}
	return res, nil
}

// deleteChunks removes indices 0..count-1, or the contiguous run found by
// probing when count is 0. Entries already gone are skipped.
func (o *Orchestrator) deleteChunks(ctx context.Context, c objstore.Container, key string, count int) (int, error) {
	if count == 0 {
		found, _, err := o.chunks(ctx, c, key, 0)
		if err != nil {
			return 0, err
		}
		count = len(found)
	}
	removed := 0
	for i := 0; i < count; i++ {
		err := c.Delete(ctx, chunk.Key(key, i))
		if errors.Is(err, objstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, errors.Wrapf(err, "delete chunk %d", i)
		}
		removed++
	}
	o.opts.Metrics.Count("delete", removed)
	return removed, nil
}
