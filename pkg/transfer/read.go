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

type ReadOptions struct {
	// AllowGaps returns whatever chunks are present instead of failing with
	// ErrChunkGap.
	AllowGaps bool
}

type ReadResult struct {
	Record  meta.Record   `json:"record"`
	Data    []byte        `json:"-"`
	Chunks  int           `json:"chunks"`
	Skipped []int         `json:"skipped,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	// Path is set by Read to the file the data was written to.
	Path string `json:"path,omitempty"`
}

// Fetch reassembles the object stored under key. A key without a record
// fails with ErrKeyNotFound before the container is touched; a record with
// no chunks fails with ErrOrphanMetadata, and chunks holding more bytes than
// the record's size fail with ErrSizeMismatch.
func (o *Orchestrator) Fetch(ctx context.Context, key string, opts ReadOptions) (res *ReadResult, retErr error) {
	defer func() { o.opts.Metrics.Op("read", retErr) }()
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	rec, err := o.meta.Find(ctx, key)
	if errors.Is(err, meta.ErrNotFound) {
		return nil, errors.Wrapf(ErrKeyNotFound, "%q", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "look up key")
	}
	if rec.Status == meta.StatusDeleting {
		return nil, errors.Wrapf(ErrKeyNotFound, "%q is being deleted", key)
	}
	cont, err := o.res.Open(ctx, rec.Pool, rec.Container)
	if err != nil {
		return nil, err
	}

	count := 0
	if rec.KnownChunkCount() {
		count = rec.ChunkCount
	}
	chunks, elapsed, err := o.chunks(ctx, cont, key, count)
	if err != nil {
		return nil, err
	}
	present, bytes := countPresent(chunks)
	o.opts.Metrics.Bulk("get", elapsed, present, bytes)
	if present == 0 {
		return nil, errors.Wrapf(ErrOrphanMetadata, "%q", key)
	}

	if count == 0 && rec.Size > 0 {
		var dropped int
		if chunks, dropped = trimToSize(chunks, rec.Size); dropped > 0 {
			o.logger.Warn().Str("key", key).Int("dropped", dropped).Int64("size", rec.Size).
				Msg("ignoring chunks past the recorded size")
		}
	}

	var jopts []chunk.JoinOption
	if opts.AllowGaps {
		jopts = append(jopts, chunk.AllowGaps())
	}
	joined, err := chunk.Join(chunks, jopts...)
	if err != nil {
		return nil, errors.Wrapf(err, "key %q", key)
	}
	if int64(len(joined.Data)) < rec.Size && !opts.AllowGaps {
		return nil, errors.Wrapf(ErrChunkGap, "key %q: found %d of %d bytes in %d chunks", key, len(joined.Data), rec.Size, present)
	}
	if rec.Size > 0 && int64(len(joined.Data)) > rec.Size {
		return nil, errors.Wrapf(ErrSizeMismatch, "key %q: %d bytes in %d chunks, record says %d", key, len(joined.Data), joined.Present, rec.Size)
	}
	if len(joined.Skipped) > 0 {
		o.logger.Warn().Str("key", key).Ints("skipped", joined.Skipped).Msg("partial read")
	}
	return &ReadResult{
		Record:  rec,
		Data:    joined.Data,
		Chunks:  joined.Present,
		Skipped: joined.Skipped,
		Elapsed: elapsed,
	}, nil
}

// trimToSize cuts probed chunks after the first one that reaches size. The
// rest are left over from an earlier, longer object under the same key.
func trimToSize(chunks [][]byte, size int64) ([][]byte, int) {
	var n int64
	for i, c := range chunks {
		if n += int64(len(c)); n >= size {
			return chunks[:i+1], len(chunks) - i - 1
		}
	}
	return chunks, 0
}

// Read fetches key and writes it to "<OutputDir>/<key>.dat".
func (o *Orchestrator) Read(ctx context.Context, key string, opts ReadOptions) (*ReadResult, error) {
	res, err := o.Fetch(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	path, err := o.save(key, res.Data)
	if err != nil {
		return nil, err
	}
	res.Path = path
	o.logger.Info().Str("key", key).Int("chunks", res.Chunks).Str("path", path).
		Dur("elapsed", res.Elapsed).Msg("read")
	return res, nil
}

func (o *Orchestrator) save(key string, data []byte) (string, error) {
	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	final := filepath.Join(o.opts.OutputDir, key+".dat")
	tmp, err := os.CreateTemp(o.opts.OutputDir, ".read-*")
	if err != nil {
		return "", errors.Wrap(err, "create output file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "write output file")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close output file")
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", errors.Wrap(err, "rename output file")
	}
	return final, nil
}
