package objstore

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	testContainer(t, func(t testing.TB) Container {
		l, err := OpenLocal(t.TempDir(), WithParallelism(2))
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestLocalPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := OpenLocal(dir)
	require.NoError(t, err)
	require.NoError(t, l.BulkPut(ctx, map[string][]byte{"k": []byte("v")}))
	require.NoError(t, l.Close())

	l, err = OpenLocal(dir)
	require.NoError(t, err)
	defer l.Close()
	got, err := l.BulkGet(ctx, []string{"k"})
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got["k"])
}

func TestLocalRollsBackUnfinishedBatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := OpenLocal(dir)
	require.NoError(t, err)
	require.NoError(t, l.BulkPut(ctx, map[string][]byte{"kept": []byte("1")}))

	// simulate a crash after one entry of a two-entry batch was written
	require.NoError(t, l.wal.Append(
		"BEGIN b1",
		"PUT b1 "+hex.EncodeToString([]byte("half0")),
		"PUT b1 "+hex.EncodeToString([]byte("half1")),
	))
	require.NoError(t, l.writeEntry("half0", []byte("x")))
	require.NoError(t, l.Close())

	l, err = OpenLocal(dir)
	require.NoError(t, err)
	defer l.Close()
	keys, err := l.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, keys)

	open, err := l.wal.Unfinished()
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestLocalClearsStaging(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "staging"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staging", "leftover"), []byte("x"), 0o644))
	l, err := OpenLocal(dir)
	require.NoError(t, err)
	defer l.Close()
	ents, err := os.ReadDir(filepath.Join(dir, "staging"))
	require.NoError(t, err)
	require.Empty(t, ents)
}

func TestLocalOpenerRejectsBadNames(t *testing.T) {
	open := LocalOpener(t.TempDir())
	for _, tc := range [][2]string{{"", "c"}, {"p", ""}, {"..", "c"}, {"p", "a/b"}} {
		_, err := open(context.Background(), tc[0], tc[1])
		require.ErrorIs(t, err, ErrStoreUnavailable, tc)
	}
	c, err := open(context.Background(), "pool0", "cont0")
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestLocalSharedOpenKeepsInFlightBatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := OpenLocal(dir)
	require.NoError(t, err)

	// a batch of a is journaled and half written when b opens
	require.NoError(t, a.wal.Append("BEGIN live", "PUT live "+hex.EncodeToString([]byte("live0"))))
	require.NoError(t, a.writeEntry("live0", []byte("x")))

	b, err := OpenLocal(dir)
	require.NoError(t, err)
	got, err := b.BulkGet(ctx, []string{"live0"})
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got["live0"])

	require.NoError(t, a.wal.Append("END live"))
	require.NoError(t, b.BulkPut(ctx, map[string][]byte{"other": []byte("y")}))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	c, err := OpenLocal(dir)
	require.NoError(t, err)
	defer c.Close()
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"live0", "other"}, keys)
}

func TestLocalDefersRecoveryWhileShared(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := OpenLocal(dir)
	require.NoError(t, err)
	require.NoError(t, a.wal.Append("BEGIN dead", "PUT dead "+hex.EncodeToString([]byte("dead0"))))
	require.NoError(t, a.writeEntry("dead0", []byte("x")))

	b, err := OpenLocal(dir)
	require.NoError(t, err)
	open, err := b.wal.Unfinished()
	require.NoError(t, err)
	require.Contains(t, open, "dead")
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	c, err := OpenLocal(dir)
	require.NoError(t, err)
	defer c.Close()
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestLocalFailedBatchKeepsExistingKeys(t *testing.T) {
	l, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.BulkPut(context.Background(), map[string][]byte{"k": []byte("old")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = l.BulkPut(ctx, map[string][]byte{"k": []byte("new"), "j": []byte("x")})
	require.ErrorIs(t, err, context.Canceled)

	got, err := l.BulkGet(context.Background(), []string{"k", "j"})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"k": []byte("old")}, got)
}
