package meta

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

func newTestEtcd(t testing.TB) *clientv3.Client {
	t.Helper()
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.UnsafeNoFsync = true
	cfg.TickMs = 10
	cfg.ElectionMs = 50

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	clientURL, err := url.Parse("http://" + addr)
	require.NoError(t, err)
	cfg.ListenPeerUrls = []url.URL{}
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.AdvertiseClientUrls = []url.URL{*clientURL}

	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(30 * time.Second):
		t.Fatal("etcd did not start")
	}

	cli, err := clientv3.New(clientv3.Config{Endpoints: []string{clientURL.String()}, DialTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestEtcdStore(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded etcd")
	}
	cli := newTestEtcd(t)
	var n atomic.Int64
	testStore(t, func(t testing.TB) Store {
		// each subtest gets its own prefix on the shared server
		s := NewEtcdFromClient(cli, "/test/"+string(rune('a'+n.Add(1))))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestEtcdStoreLockKey(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded etcd")
	}
	cli := newTestEtcd(t)
	a := NewEtcdFromClient(cli, "/locks")
	b := NewEtcdFromClient(cli, "/locks")
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	unlock, err := a.LockKey(ctx, "doc1")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = b.LockKey(tctx, "doc1")
	require.Error(t, err)

	unlock()
	unlock2, err := b.LockKey(ctx, "doc1")
	require.NoError(t, err)
	unlock2()
}

func TestEtcdStoreLockKeySameStore(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded etcd")
	}
	s := NewEtcdFromClient(newTestEtcd(t), "/locks")
	defer s.Close()

	ctx := context.Background()
	unlock, err := s.LockKey(ctx, "doc1")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = s.LockKey(tctx, "doc1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := s.LockKey(ctx, "doc2")
	require.NoError(t, err)
	other()

	acquired := make(chan func(), 1)
	go func() {
		u, err := s.LockKey(ctx, "doc1")
		assert.NoError(t, err)
		acquired <- u
	}()
	select {
	case <-acquired:
		t.Fatal("second holder got doc1 while the first still holds it")
	case <-time.After(100 * time.Millisecond):
	}
	unlock()
	select {
	case u := <-acquired:
		u()
	case <-time.After(5 * time.Second):
		t.Fatal("doc1 not handed over after unlock")
	}
	s.mu.Lock()
	require.Empty(t, s.held)
	s.mu.Unlock()
}
