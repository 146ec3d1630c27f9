package meta

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var _ Store = &FileStore{}

// FileStore keeps all records in one JSON array that is rewritten whole on
// every mutation. An flock on "<path>.lock" serializes processes sharing the
// file.
type FileStore struct {
	path   string
	mu     sync.Mutex
	lockf  *os.File
	logger zerolog.Logger
}

func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create metadata dir")
	}
	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open metadata lock")
	}
	return &FileStore{path: path, lockf: lf, logger: zerolog.Nop()}, nil
}

func (s *FileStore) SetLogger(l zerolog.Logger) { s.logger = l }

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Add(ctx context.Context, rec Record) error {
	return s.mutate(ctx, func(recs []Record) ([]Record, error) {
		if indexOf(recs, rec.Key) >= 0 {
			return nil, errors.Wrapf(ErrExists, "key %q", rec.Key)
		}
		return append(recs, rec), nil
	})
}

func (s *FileStore) Find(ctx context.Context, key string) (Record, error) {
	var out Record
	err := s.view(ctx, func(recs []Record) error {
		i := indexOf(recs, key)
		if i < 0 {
			return errors.Wrapf(ErrNotFound, "key %q", key)
		}
		out = recs[i]
		return nil
	})
	return out, err
}

func (s *FileStore) Update(ctx context.Context, rec Record) error {
	return s.mutate(ctx, func(recs []Record) ([]Record, error) {
		i := indexOf(recs, rec.Key)
		if i < 0 {
			return nil, errors.Wrapf(ErrNotFound, "key %q", rec.Key)
		}
		recs[i] = rec
		return recs, nil
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) (bool, error) {
	var removed bool
	err := s.mutate(ctx, func(recs []Record) ([]Record, error) {
		kept := recs[:0]
		for _, r := range recs {
			if r.Key == key {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		if !removed {
			return nil, nil
		}
		return kept, nil
	})
	return removed, err
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.view(ctx, func(recs []Record) error {
		out = append(out, recs...)
		return nil
	})
	sortRecords(out)
	return out, err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockf.Close()
}

func (s *FileStore) view(ctx context.Context, fn func([]Record) error) error {
	return s.locked(ctx, func() error {
		recs, err := s.load()
		if err != nil {
			return err
		}
		return fn(recs)
	})
}

// mutate rewrites the file with whatever fn returns; a nil slice with a nil
// error leaves the file untouched.
func (s *FileStore) mutate(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	return s.locked(ctx, func() error {
		recs, err := s.load()
		if err != nil {
			return err
		}
		next, err := fn(recs)
		if err != nil || next == nil {
			return err
		}
		return s.save(next)
	})
}

func (s *FileStore) locked(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fd := int(s.lockf.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return errors.Wrap(err, "lock metadata file")
	}
	defer func() {
		if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("unlock metadata file")
		}
	}()
	return fn()
}

func (s *FileStore) load() ([]Record, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read metadata file")
	}
	if len(b) == 0 {
		return []Record{}, nil
	}
	recs := []Record{}
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, errors.Wrapf(err, "parse %s", s.path)
	}
	return recs, nil
}

func (s *FileStore) save(recs []Record) error {
	b, err := json.MarshalIndent(recs, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create metadata temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write metadata temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync metadata temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close metadata temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace metadata file")
}

func indexOf(recs []Record, key string) int {
	for i, r := range recs {
		if r.Key == key {
			return i
		}
	}
	return -1
}
