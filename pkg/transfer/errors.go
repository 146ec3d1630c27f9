package transfer

import (
	"fmt"

	"ChunkVault/pkg/chunk"
	"ChunkVault/pkg/objstore"

	"github.com/pkg/errors"
)

// Errors returned by the orchestrator are classified with errors.Is against
// these values. Orphan and nothing-to-delete errors also match ErrKeyNotFound.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrKeyExists        = errors.New("key already exists")
	ErrInvalidKey       = errors.New("invalid key")
	ErrEmptyUpload      = errors.New("empty upload")
	ErrFileNotFound     = errors.New("file not found")
	ErrPartialWrite     = errors.New("partial write")
	ErrOrphanMetadata   = error(&notFoundError{"metadata has no chunks"})
	ErrNothingToDelete  = error(&notFoundError{"nothing to delete"})
	ErrSizeMismatch     = errors.New("chunks do not match recorded size")
	ErrStoreUnavailable = objstore.ErrStoreUnavailable
	ErrChunkGap         = chunk.ErrChunkGap
)

// notFoundError is a more specific ErrKeyNotFound.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrKeyNotFound }

// PartialWriteError is returned once an upload has recorded metadata but could
// not finish. It matches ErrPartialWrite and unwraps to the failing store call.
type PartialWriteError struct {
	Key  string
	Step string
	Err  error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %s %q: %v", e.Step, e.Key, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

func (e *PartialWriteError) Is(target error) bool { return target == ErrPartialWrite }

// MaxKeyLen bounds user keys so chunk entry names stay usable as file names.
const MaxKeyLen = 100

// ValidateKey rejects keys that cannot be used as a "<key>.dat" file name.
func ValidateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return errors.Wrapf(ErrInvalidKey, "%q", key)
	case len(key) > MaxKeyLen:
		return errors.Wrapf(ErrInvalidKey, "longer than %d bytes", MaxKeyLen)
	}
	for _, r := range key {
		if r == '/' || r == '\\' || r == 0 {
			return errors.Wrapf(ErrInvalidKey, "%q contains %q", key, r)
		}
	}
	return nil
}
