// Package mem implements an in-memory Git object store.
package mem

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

var _ store.Store = &Store{}

// Store is a memory-based implementation of a Git object store.
type Store struct {
	idType git.IDType

	mu   sync.Mutex
	objs map[git.ID]object
}

type object struct {
	typ  git.ObjectType
	body []byte
}

// New produces a new Store for ids of the given type.
func New(idType git.IDType) *Store {
	return &Store{
		idType: idType,
		objs:   make(map[git.ID]object),
	}
}

// Get gets the object with the given id.
func (s *Store) Get(_ context.Context, id git.ID) (git.ObjectBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.objs[id]; ok {
		return git.NewObject(obj.typ, bkt.NewMemory(obj.body)), nil
	}
	return nil, store.ErrNotFound
}

// Put adds an object to the store if it wasn't already present.
func (s *Store) Put(_ context.Context, typ git.ObjectType, body bkt.Bucket) (git.ID, bool, error) {
	if !typ.Valid() {
		return git.ID{}, false, errors.Wrapf(bkt.ErrInvalidArgument, "object type %s", typ)
	}
	data, err := bkt.ReadAll(body)
	if err != nil {
		return git.ID{}, false, errors.Wrap(err, "reading object body")
	}
	id, err := git.HashObject(typ, bkt.NewMemory(data), s.idType)
	if err != nil {
		return git.ID{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objs[id]; ok {
		return id, false, nil
	}
	s.objs[id] = object{typ: typ, body: data}
	return id, true, nil
}

// ListIDs produces all object ids in the store, in lexicographic order.
func (s *Store) ListIDs(ctx context.Context, start git.ID, f func(git.ID) error) error {
	s.mu.Lock()
	ids := make([]git.ID, 0, len(s.objs))
	for id := range s.objs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	return store.ListSorted(ctx, ids, start, f)
}

// IDType is the type of the store's object ids.
func (s *Store) IDType() git.IDType {
	return s.idType
}

// Len is the number of objects in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objs)
}

func init() {
	store.Register("mem", func(_ context.Context, conf map[string]interface{}) (store.Store, error) {
		idType, err := store.IDType(conf)
		if err != nil {
			return nil, err
		}
		return New(idType), nil
	})
}
