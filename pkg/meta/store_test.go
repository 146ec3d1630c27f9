package meta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testStore runs the behaviour every Store implementation must share.
func testStore(t *testing.T, newStore func(t testing.TB) Store) {
	t.Run("AddFind", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := testRecord("doc1")
		require.NoError(t, s.Add(ctx, rec))
		got, err := s.Find(ctx, "doc1")
		require.NoError(t, err)
		require.Equal(t, rec.Key, got.Key)
		require.Equal(t, rec.Pool, got.Pool)
		require.Equal(t, rec.Container, got.Container)
		require.Equal(t, rec.Size, got.Size)
		require.Equal(t, rec.Status, got.Status)
		require.WithinDuration(t, rec.UploadTime.Time, got.UploadTime.Time, time.Millisecond)
	})
	t.Run("FindMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Find(context.Background(), "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("AddDuplicate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Add(ctx, testRecord("doc1")))
		require.ErrorIs(t, s.Add(ctx, testRecord("doc1")), ErrExists)
	})
	t.Run("Update", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := testRecord("doc1")
		require.NoError(t, s.Add(ctx, rec))
		rec.Status = StatusCommitted
		rec.ChunkCount = 3
		require.NoError(t, s.Update(ctx, rec))
		got, err := s.Find(ctx, "doc1")
		require.NoError(t, err)
		require.Equal(t, 3, got.ChunkCount)
		require.True(t, got.Committed())

		require.ErrorIs(t, s.Update(ctx, testRecord("other")), ErrNotFound)
	})
	t.Run("IdempotentDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.Add(ctx, testRecord("doc1")))
		removed, err := s.Delete(ctx, "doc1")
		require.NoError(t, err)
		require.True(t, removed)
		removed, err = s.Delete(ctx, "doc1")
		require.NoError(t, err)
		require.False(t, removed)
		_, err = s.Find(ctx, "doc1")
		require.ErrorIs(t, err, ErrNotFound)
	})
	t.Run("List", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Empty(t, recs)
		for _, k := range []string{"b", "c", "a"} {
			require.NoError(t, s.Add(ctx, testRecord(k)))
		}
		recs, err = s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		require.Equal(t, "a", recs[0].Key)
		require.Equal(t, "b", recs[1].Key)
		require.Equal(t, "c", recs[2].Key)
	})
}

func testRecord(key string) Record {
	return Record{
		Pool:       "pool0",
		Container:  "cont0",
		Key:        key,
		Filename:   key + ".bin",
		Size:       5,
		UploadTime: Now(),
		ChunkSize:  2,
		Status:     StatusPending,
	}
}
