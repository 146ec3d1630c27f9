package transfer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"ChunkVault/pkg/chunk"
	"ChunkVault/pkg/meta"

	"github.com/pkg/errors"
)

type UploadResult struct {
	Key       string        `json:"key"`
	Pool      string        `json:"pool"`
	Container string        `json:"container"`
	Chunks    int           `json:"chunks"`
	Bytes     int64         `json:"bytes"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Upload stores the file at path under key.
func (o *Orchestrator) Upload(ctx context.Context, key, path string) (*UploadResult, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrFileNotFound, "%s", path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read source file")
	}
	return o.UploadBytes(ctx, key, filepath.Base(path), data)
}

// UploadBytes stores data under key. The pending record is written before
// any chunk; a failure after that point is an ErrPartialWrite and leaves the
// record for Reconcile. Elapsed in the result covers only the BulkPut call.
func (o *Orchestrator) UploadBytes(ctx context.Context, key, filename string, data []byte) (res *UploadResult, retErr error) {
	defer func() { o.opts.Metrics.Op("upload", retErr) }()
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.Wrapf(ErrEmptyUpload, "key %q", key)
	}
	unlock, err := o.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := o.meta.Find(ctx, key); err == nil {
		return nil, errors.Wrapf(ErrKeyExists, "%q", key)
	} else if !errors.Is(err, meta.ErrNotFound) {
		return nil, errors.Wrap(err, "look up key")
	}

	cont, tgt, err := o.res.Pick(ctx, key)
	if err != nil {
		return nil, err
	}
	chunks, err := chunk.Split(data, o.opts.ChunkSize)
	if err != nil {
		return nil, err
	}

	rec := meta.Record{
		Pool:       tgt.Pool,
		Container:  tgt.Container,
		Key:        key,
		Filename:   filename,
		Size:       int64(len(data)),
		UploadTime: meta.UnixTime{Time: o.now()},
		ChunkSize:  int64(o.opts.ChunkSize),
		Status:     meta.StatusPending,
	}
	if err := o.meta.Add(ctx, rec); err != nil {
		if errors.Is(err, meta.ErrExists) {
			return nil, errors.Wrapf(ErrKeyExists, "%q", key)
		}
		return nil, errors.Wrap(err, "add metadata record")
	}

	entries := make(map[string][]byte, len(chunks))
	for i, c := range chunks {
		entries[chunk.Key(key, i)] = c
	}
	start := time.Now()
	err = cont.BulkPut(ctx, entries)
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Error().Err(err).Str("key", key).Str("pool", tgt.Pool).Str("container", tgt.Container).
			Msg("bulk put failed after metadata was recorded")
		return nil, errors.WithStack(&PartialWriteError{Key: key, Step: "write chunks", Err: err})
	}
	o.opts.Metrics.Bulk("put", elapsed, len(chunks), rec.Size)

	rec.Status = meta.StatusCommitted
	rec.ChunkCount = len(chunks)
	if err := o.meta.Update(ctx, rec); err != nil {
		return nil, errors.WithStack(&PartialWriteError{Key: key, Step: "commit record", Err: err})
	}

	o.logger.Info().Str("key", key).Int("chunks", len(chunks)).Int64("bytes", rec.Size).
		Dur("elapsed", elapsed).Msg("uploaded")
	return &UploadResult{
		Key:       key,
		Pool:      tgt.Pool,
		Container: tgt.Container,
		Chunks:    len(chunks),
		Bytes:     rec.Size,
		Elapsed:   elapsed,
	}, nil
}
