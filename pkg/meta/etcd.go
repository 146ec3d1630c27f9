package meta

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

var _ Store = &EtcdStore{}

// KeyLocker is implemented by stores that can hold a cross-process lock on a
// single key for the length of a multi-step workflow.
type KeyLocker interface {
	LockKey(ctx context.Context, key string) (unlock func(), err error)
}

// EtcdStore keeps one etcd key per record under "<prefix>/obj/".
type EtcdStore struct {
	cli    *clientv3.Client
	prefix string
	owned  bool

	mu      sync.Mutex
	session *concurrency.Session
	held    map[string]*keyGate
}

// keyGate serializes LockKey callers within one store. etcd mutexes taken
// through the same session do not exclude each other.
type keyGate struct {
	ch   chan struct{}
	refs int
}

func NewEtcd(endpoints []string, prefix string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints, DialTimeout: 3 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	s := NewEtcdFromClient(cli, prefix)
	s.owned = true
	return s, nil
}

// NewEtcdFromClient wraps an existing client; Close leaves the client open.
func NewEtcdFromClient(cli *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/chunkvault"
	}
	return &EtcdStore{cli: cli, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *EtcdStore) keyObj(key string) string {
	return s.prefix + "/obj/" + key
}

// Add creates the record only if no version of the key exists yet.
func (s *EtcdStore) Add(ctx context.Context, rec Record) error {
	k := s.keyObj(rec.Key)
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	txn := s.cli.Txn(ctx).If(clientv3.Compare(clientv3.Version(k), "=", 0)).Then(clientv3.OpPut(k, string(b)))
	resp, err := txn.Commit()
	if err != nil {
		return errors.Wrap(err, "add record")
	}
	if !resp.Succeeded {
		return errors.Wrapf(ErrExists, "key %q", rec.Key)
	}
	return nil
}

func (s *EtcdStore) Find(ctx context.Context, key string) (Record, error) {
	rec, _, err := s.get(ctx, key)
	return rec, err
}

func (s *EtcdStore) get(ctx context.Context, key string) (Record, int64, error) {
	resp, err := s.cli.Get(ctx, s.keyObj(key))
	if err != nil {
		return Record{}, 0, errors.Wrap(err, "get record")
	}
	if len(resp.Kvs) == 0 {
		return Record{}, 0, errors.Wrapf(ErrNotFound, "key %q", key)
	}
	var rec Record
	if err := json.Unmarshal(resp.Kvs[0].Value, &rec); err != nil {
		return Record{}, 0, errors.Wrapf(err, "decode record %q", key)
	}
	return rec, resp.Kvs[0].ModRevision, nil
}

// Update replaces the record, failing with ErrConflict if it changed between
// the read and the write.
func (s *EtcdStore) Update(ctx context.Context, rec Record) error {
	k := s.keyObj(rec.Key)
	_, rev, err := s.get(ctx, rec.Key)
	if err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	txn := s.cli.Txn(ctx).If(clientv3.Compare(clientv3.ModRevision(k), "=", rev)).Then(clientv3.OpPut(k, string(b)))
	resp, err := txn.Commit()
	if err != nil {
		return errors.Wrap(err, "update record")
	}
	if !resp.Succeeded {
		return errors.Wrapf(ErrConflict, "key %q", rec.Key)
	}
	return nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) (bool, error) {
	resp, err := s.cli.Delete(ctx, s.keyObj(key))
	if err != nil {
		return false, errors.Wrap(err, "delete record")
	}
	return resp.Deleted > 0, nil
}

func (s *EtcdStore) List(ctx context.Context) ([]Record, error) {
	resp, err := s.cli.Get(ctx, s.prefix+"/obj/", clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	recs := make([]Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode record %s", kv.Key)
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

// LockKey takes the etcd mutex guarding key. The session TTL bounds how long a
// crashed holder keeps the lock.
func (s *EtcdStore) LockKey(ctx context.Context, key string) (func(), error) {
	release, err := s.enter(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "lock key %q", key)
	}
	sess, err := s.sessionFor()
	if err != nil {
		release()
		return nil, err
	}
	m := concurrency.NewMutex(sess, s.prefix+"/lock/"+key)
	if err := m.Lock(ctx); err != nil {
		release()
		return nil, errors.Wrapf(err, "lock key %q", key)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Unlock(ctx)
		release()
	}, nil
}

func (s *EtcdStore) enter(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	if s.held == nil {
		s.held = make(map[string]*keyGate)
	}
	g := s.held[key]
	if g == nil {
		g = &keyGate{ch: make(chan struct{}, 1)}
		s.held[key] = g
	}
	g.refs++
	s.mu.Unlock()

	leave := func() {
		s.mu.Lock()
		if g.refs--; g.refs == 0 {
			delete(s.held, key)
		}
		s.mu.Unlock()
	}
	select {
	case g.ch <- struct{}{}:
		return func() {
			<-g.ch
			leave()
		}, nil
	case <-ctx.Done():
		leave()
		return nil, ctx.Err()
	}
}

func (s *EtcdStore) sessionFor() (*concurrency.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		select {
		case <-s.session.Done():
			s.session = nil
		default:
			return s.session, nil
		}
	}
	sess, err := concurrency.NewSession(s.cli, concurrency.WithTTL(15))
	if err != nil {
		return nil, errors.Wrap(err, "open etcd session")
	}
	s.session = sess
	return sess, nil
}

func (s *EtcdStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = s.session.Close()
		s.session = nil
	}
	if s.owned {
		if cerr := s.cli.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
