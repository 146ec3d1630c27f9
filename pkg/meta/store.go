// Package meta keeps the catalog of uploaded keys: where each key's chunks
// live and what file they came from.
package meta

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("metadata record not found")
	ErrExists   = errors.New("metadata record already exists")
	ErrConflict = errors.New("metadata record changed concurrently")
)

// Store is a record store keyed by user key. Implementations serialize
// mutations across processes.
type Store interface {
	// Add inserts rec. A second record for the same key fails with ErrExists.
	Add(ctx context.Context, rec Record) error
	// Find returns ErrNotFound when key has no record.
	Find(ctx context.Context, key string) (Record, error)
	// Update replaces the record for rec.Key; ErrNotFound when absent.
	Update(ctx context.Context, rec Record) error
	// Delete reports whether a record was removed. Absent keys are not an error.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns every record ordered by key.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
}
