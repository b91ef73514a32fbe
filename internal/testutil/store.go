package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"s3sync/internal/domain"
	"s3sync/internal/storage"
)

// ErrRejected is the failure FakeStore injects for keys listed in FailPut/FailDelete.
var ErrRejected = errors.New("rejected by fake store")

// FakeObject is an object held by FakeStore.
type FakeObject struct {
	Input        storage.PutInput
	LastModified time.Time
	PublicRead   bool
}

// FakeStore is an in-memory storage.Service recording every call.
type FakeStore struct {
	mu sync.Mutex

	Objects map[string]*FakeObject
	Buckets map[string]bool

	Puts    []storage.PutInput
	Deletes []string
	Lists   []string
	// Consumed counts listing entries handed out by iterators.
	Consumed int

	FailPut    map[string]bool
	FailACL    map[string]bool
	FailDelete map[string]bool
	// FailWith overrides the injected error when set.
	FailWith error

	Now func() time.Time
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		Objects:    make(map[string]*FakeObject),
		Buckets:    make(map[string]bool),
		FailPut:    make(map[string]bool),
		FailACL:    make(map[string]bool),
		FailDelete: make(map[string]bool),
		Now:        time.Now,
	}
}

// Seed places an object in the store without recording a put.
func (s *FakeStore) Seed(key string, lastModified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = &FakeObject{
		Input:        storage.PutInput{Key: key},
		LastModified: lastModified.UTC(),
	}
}

// Keys returns the stored keys in sorted order.
func (s *FakeStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.Objects))
	for k := range s.Objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutKeys returns the keys of recorded puts in call order.
func (s *FakeStore) PutKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.Puts))
	for i, p := range s.Puts {
		keys[i] = p.Key
	}
	return keys
}

func (s *FakeStore) failure() error {
	if s.FailWith != nil {
		return s.FailWith
	}
	return ErrRejected
}

func (s *FakeStore) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Buckets[bucket] = true
	return nil
}

func (s *FakeStore) ListObjects(ctx context.Context, bucket, prefix string) storage.ObjectIterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lists = append(s.Lists, prefix)

	var objects []domain.RemoteObject
	for key, obj := range s.Objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, domain.RemoteObject{Key: key, LastModified: obj.LastModified, Size: int64(len(obj.Input.Body))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return &fakeIterator{store: s, objects: objects}
}

func (s *FakeStore) PutObject(ctx context.Context, in storage.PutInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Puts = append(s.Puts, in)
	if s.FailPut[in.Key] {
		return &domain.RemoteError{Op: domain.OpPut, Bucket: in.Bucket, Key: in.Key, Err: s.failure()}
	}
	s.Objects[in.Key] = &FakeObject{Input: in, LastModified: s.Now().UTC()}
	return nil
}

func (s *FakeStore) SetPublicRead(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailACL[key] {
		return &domain.RemoteError{Op: domain.OpACL, Bucket: bucket, Key: key, Err: s.failure()}
	}
	if obj, ok := s.Objects[key]; ok {
		obj.PublicRead = true
	}
	return nil
}

func (s *FakeStore) DeleteObject(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Deletes = append(s.Deletes, key)
	if s.FailDelete[key] {
		return &domain.RemoteError{Op: domain.OpDelete, Bucket: bucket, Key: key, Err: s.failure()}
	}
	delete(s.Objects, key)
	return nil
}

var _ storage.Service = (*FakeStore)(nil)

type fakeIterator struct {
	store   *FakeStore
	objects []domain.RemoteObject
	pos     int
}

func (it *fakeIterator) Next(ctx context.Context) (domain.RemoteObject, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.RemoteObject{}, false, err
	}
	if it.pos >= len(it.objects) {
		return domain.RemoteObject{}, false, nil
	}
	obj := it.objects[it.pos]
	it.pos++
	it.store.mu.Lock()
	it.store.Consumed++
	it.store.mu.Unlock()
	return obj, true, nil
}
