package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// testContainer runs the behaviour shared by every Container backend.
func testContainer(t *testing.T, newContainer func(t testing.TB) Container) {
	t.Run("BulkPutGet", func(t *testing.T) {
		ctx := context.Background()
		c := newContainer(t)
		require.NoError(t, c.BulkPut(ctx, map[string][]byte{
			"doc1chunk0": []byte("AB"),
			"doc1chunk1": []byte("CD"),
			"doc1chunk2": []byte("E"),
		}))
		got, err := c.BulkGet(ctx, []string{"doc1chunk0", "doc1chunk1", "doc1chunk2", "doc1chunk3"})
		require.NoError(t, err)
		require.Equal(t, map[string][]byte{
			"doc1chunk0": []byte("AB"),
			"doc1chunk1": []byte("CD"),
			"doc1chunk2": []byte("E"),
		}, got)
	})
	t.Run("BulkGetEmpty", func(t *testing.T) {
		c := newContainer(t)
		got, err := c.BulkGet(context.Background(), nil)
		require.NoError(t, err)
		require.Empty(t, got)
		got, err = c.BulkGet(context.Background(), []string{"missing"})
		require.NoError(t, err)
		require.Empty(t, got)
	})
	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		c := newContainer(t)
		require.NoError(t, c.BulkPut(ctx, map[string][]byte{"k": []byte("v")}))
		require.NoError(t, c.Delete(ctx, "k"))
		require.ErrorIs(t, c.Delete(ctx, "k"), ErrNotFound)
		got, err := c.BulkGet(ctx, []string{"k"})
		require.NoError(t, err)
		require.Empty(t, got)
	})
	t.Run("KeysLen", func(t *testing.T) {
		ctx := context.Background()
		c := newContainer(t)
		n, err := c.Len(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
		require.NoError(t, c.BulkPut(ctx, map[string][]byte{
			"b":     []byte("2"),
			"a":     []byte("1"),
			"a/b*c": []byte("3"),
		}))
		keys, err := c.Keys(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"a", "a/b*c", "b"}, keys)
		n, err = c.Len(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, n)
	})
	t.Run("Overwrite", func(t *testing.T) {
		ctx := context.Background()
		c := newContainer(t)
		require.NoError(t, c.BulkPut(ctx, map[string][]byte{"k": []byte("old")}))
		require.NoError(t, c.BulkPut(ctx, map[string][]byte{"k": []byte("new")}))
		got, err := c.BulkGet(ctx, []string{"k"})
		require.NoError(t, err)
		require.Equal(t, []byte("new"), got["k"])
	})
}
