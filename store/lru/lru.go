// Package lru implements an object store that acts as a least-recently-used cache for a nested object store.
package lru

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

var _ store.Store = &Store{}

// DefaultMaxBody is the largest object body cached by default.
const DefaultMaxBody = 64 * 1024

// Store implements a memory-based least-recently-used cache for an object store.
// Only objects whose bodies are no larger than its maxBody are cached.
// Writes pass through to the underlying store.
type Store struct {
	c       *lru.Cache // git.ID->cached
	s       store.Store
	maxBody int64

	hits, misses int64 // atomic
}

type cached struct {
	typ  git.ObjectType
	body []byte
}

// New produces a new Store backed by s and caching up to size objects
// of up to maxBody bytes each.
func New(s store.Store, size int, maxBody int64) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c, maxBody: maxBody}, err
}

// Get gets the object with the given id.
// A cached object comes back as a memory bucket.
func (s *Store) Get(ctx context.Context, id git.ID) (git.ObjectBucket, error) {
	if got, ok := s.c.Get(id); ok {
		atomic.AddInt64(&s.hits, 1)
		p := got.(cached)
		return git.NewObject(p.typ, bkt.NewMemory(p.body)), nil
	}
	atomic.AddInt64(&s.misses, 1)

	obj, err := s.s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	size, ok, err := bkt.Remaining(obj)
	if err != nil {
		obj.Close()
		return nil, errors.Wrapf(err, "getting size of %s", id)
	}
	if !ok || size > s.maxBody {
		return obj, nil
	}

	defer obj.Close()
	typ, err := obj.ReadType()
	if err != nil {
		return nil, errors.Wrapf(err, "reading type of %s", id)
	}
	body, err := bkt.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", id)
	}
	s.c.Add(id, cached{typ: typ, body: body})
	return git.NewObject(typ, bkt.NewMemory(body)), nil
}

// Put adds an object to the nested store if it wasn't already present.
func (s *Store) Put(ctx context.Context, typ git.ObjectType, body bkt.Bucket) (git.ID, bool, error) {
	return s.s.Put(ctx, typ, body)
}

// ListIDs produces all object ids in the nested store, in lexicographic order.
func (s *Store) ListIDs(ctx context.Context, start git.ID, f func(git.ID) error) error {
	return s.s.ListIDs(ctx, start, f)
}

// Unwrap is the nested store.
func (s *Store) Unwrap() store.Store {
	return s.s
}

// Stats reports the number of cache hits and misses so far.
func (s *Store) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&s.hits), atomic.LoadInt64(&s.misses)
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (store.Store, error) {
		size, ok := store.Int(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		maxBody := int64(DefaultMaxBody)
		if n, ok := store.Int(conf, "maxbody"); ok {
			maxBody = int64(n)
		}
		nestedStore, err := store.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nestedStore, size, maxBody)
	})
}
