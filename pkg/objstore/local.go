package objstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	xx "github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

var _ Container = &Local{}

// Local stores each entry as a file under base/entries, fanned out by key
// hash. Writes go through base/staging and are journaled in base/wal.
// Every Local holds a shared flock on base/lock while open, so several
// processes may use one container at a time.
type Local struct {
	base        string
	wal         *WAL
	lockf       *os.File
	mu          sync.Mutex
	parallelism int
	logger      zerolog.Logger
}

type LocalOption func(*Local)

func WithParallelism(n int) LocalOption {
	return func(l *Local) {
		if n > 0 {
			l.parallelism = n
		}
	}
}

func WithLogger(logger zerolog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// OpenLocal opens the container rooted at base. When no other Local has the
// container open, leftover staging files are cleared and any batch the WAL
// shows as unfinished is rolled back. Otherwise both are left for a later
// sole opener, since those batches may still be in flight.
func OpenLocal(base string, opts ...LocalOption) (*Local, error) {
	l := &Local{base: base, parallelism: 8, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.Wrap(err, "create base dir")
	}
	lockf, err := os.OpenFile(filepath.Join(base, "lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}
	l.lockf = lockf
	if err := l.open(); err != nil {
		if l.wal != nil {
			l.wal.Close()
		}
		lockf.Close()
		return nil, err
	}
	return l, nil
}

func (l *Local) open() error {
	fd := int(l.lockf.Fd())
	err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	sole := err == nil
	switch {
	case sole:
		if err := os.RemoveAll(filepath.Join(l.base, "staging")); err != nil {
			return errors.Wrap(err, "clear staging")
		}
	case errors.Is(err, unix.EWOULDBLOCK):
		if err := unix.Flock(fd, unix.LOCK_SH); err != nil {
			return errors.Wrap(err, "lock container")
		}
		l.logger.Debug().Str("base", l.base).Msg("container already open, skipping recovery")
	default:
		return errors.Wrap(err, "lock container")
	}
	for _, d := range []string{"staging", "entries"} {
		if err := os.MkdirAll(filepath.Join(l.base, d), 0o755); err != nil {
			return errors.Wrapf(err, "create %s dir", d)
		}
	}
	wal, err := OpenWAL(filepath.Join(l.base, "wal"))
	if err != nil {
		return errors.Wrap(err, "open wal")
	}
	l.wal = wal
	if !sole {
		return nil
	}
	if err := l.recover(); err != nil {
		return err
	}
	// downgrade so other openers can join
	return errors.Wrap(unix.Flock(fd, unix.LOCK_SH), "lock container")
}

func (l *Local) recover() error {
	open, err := l.wal.Unfinished()
	if err != nil {
		return err
	}
	for batch, hexKeys := range open {
		for _, hk := range hexKeys {
			k, err := hex.DecodeString(hk)
			if err != nil {
				continue
			}
			if err := os.Remove(l.entryPath(string(k))); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "roll back %q", k)
			}
		}
		l.logger.Warn().Str("base", l.base).Str("batch", batch).Int("entries", len(hexKeys)).Msg("rolled back unfinished batch")
	}
	return errors.Wrap(l.wal.Truncate(), "truncate wal")
}

func (l *Local) entryPath(key string) string {
	h := fmt.Sprintf("%016x", xx.Sum64String(key))
	return filepath.Join(l.base, "entries", h[:2], h[2:4], hex.EncodeToString([]byte(key)))
}

func (l *Local) BulkGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	vals := make([][]byte, len(keys))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.parallelism)
	for i, k := range keys {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := os.ReadFile(l.entryPath(k))
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "read %q", k)
			}
			vals[i] = b
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, k := range keys {
		if vals[i] != nil {
			out[k] = vals[i]
		}
	}
	return out, nil
}

// BulkPut writes entries as one journaled batch. If the batch fails, here or
// through a crash rolled back on the next open, the keys it created are
// removed. Keys that already existed are not journaled and never removed; a
// failed batch may leave them with either their old or their new value.
func (l *Local) BulkPut(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := uuid.NewString()
	recs := make([]string, 0, len(entries)+1)
	recs = append(recs, "BEGIN "+batch)
	keys := make([]string, 0, len(entries))
	var created []string
	for k := range entries {
		keys = append(keys, k)
		_, err := os.Stat(l.entryPath(k))
		switch {
		case err == nil:
			continue
		case !os.IsNotExist(err):
			return errors.Wrapf(err, "stat %q", k)
		}
		created = append(created, k)
		recs = append(recs, "PUT "+batch+" "+hex.EncodeToString([]byte(k)))
	}
	if err := l.wal.Append(recs...); err != nil {
		return err
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.parallelism)
	for _, k := range keys {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return l.writeEntry(k, entries[k])
		})
	}
	if err := eg.Wait(); err != nil {
		for _, k := range created {
			if rerr := os.Remove(l.entryPath(k)); rerr != nil && !os.IsNotExist(rerr) {
				l.logger.Warn().Err(rerr).Str("key", k).Msg("failed to roll back entry")
			}
		}
		if aerr := l.wal.Append("ABORT " + batch); aerr != nil {
			l.logger.Warn().Err(aerr).Str("batch", batch).Msg("failed to journal abort")
		}
		return errors.Wrap(err, "bulk put")
	}
	return l.wal.Append("END " + batch)
}

func (l *Local) writeEntry(key string, data []byte) error {
	p := l.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(l.base, "staging", uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "stage %q", key)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "commit %q", key)
	}
	return nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.wal.Append("DEL " + hex.EncodeToString([]byte(key))); err != nil {
		return err
	}
	err := os.Remove(l.entryPath(key))
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "key %q", key)
	}
	return err
}

func (l *Local) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	root := filepath.Join(l.base, "entries")
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		k, err := hex.DecodeString(d.Name())
		if err != nil {
			return nil
		}
		keys = append(keys, string(k))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk entries")
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) Len(ctx context.Context) (int, error) {
	keys, err := l.Keys(ctx)
	return len(keys), err
}

// Close releases the container lock along with the WAL.
func (l *Local) Close() error {
	err := l.wal.Close()
	if cerr := l.lockf.Close(); err == nil {
		err = cerr
	}
	return err
}

// LocalOpener maps pool/container to root/pool/container. Callers own the
// returned container; Resolver caches and closes them.
func LocalOpener(root string, opts ...LocalOption) Opener {
	return func(_ context.Context, pool, container string) (Container, error) {
		id := containerID(pool, container)
		if !validName(pool) || !validName(container) {
			return nil, errors.Wrapf(ErrStoreUnavailable, "invalid container %q", id)
		}
		c, err := OpenLocal(filepath.Join(root, pool, container), opts...)
		if err != nil {
			return nil, errors.Wrapf(ErrStoreUnavailable, "open %s: %v", id, err)
		}
		return c, nil
	}
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s
}
