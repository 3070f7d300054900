// Package packs implements a read-only Git object store
// over the pack files of a repository.
package packs

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/pack"
	"github.com/bobg/bkt/store"
)

var _ store.Store = &Store{}

// Store is a read-only object store over a directory of pack files.
// It is safe for concurrent use.
type Store struct {
	dir      string
	idType   git.IDType
	packs    []*pack.Pack
	skipped  []string
	parallel int

	mu      sync.Mutex
	resolve pack.Resolver
}

// Open opens every pack in dir (normally a repository's objects/pack)
// that has a usable index.
// Packs whose index is missing or of an unknown version are skipped;
// see Skipped.
// Lookups consult up to parallel packs at once; 0 means no limit.
func Open(dir string, idType git.IDType, parallel int) (*Store, error) {
	idxPaths, err := filepath.Glob(filepath.Join(dir, "*.idx"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing indexes in %s", dir)
	}
	sort.Strings(idxPaths)

	s := &Store{dir: dir, idType: idType, parallel: parallel}
	for _, idxPath := range idxPaths {
		packPath := strings.TrimSuffix(idxPath, ".idx") + ".pack"
		p, err := pack.Open(packPath, idxPath, idType)
		if errors.Is(err, pack.ErrNoIndex) {
			s.skipped = append(s.skipped, idxPath)
			continue
		}
		if err != nil {
			s.Close()
			return nil, err
		}
		s.packs = append(s.packs, p)
	}
	return s, nil
}

// Packs are the open packs, in order of their file names.
func (s *Store) Packs() []*pack.Pack {
	return s.packs
}

// IDType is the type of the store's object ids.
func (s *Store) IDType() git.IDType {
	return s.idType
}

// Skipped are the index files that were not usable.
func (s *Store) Skipped() []string {
	return s.skipped
}

// SetResolver sets the function finding ref-delta bases.
// By default they are looked up in the store's own packs.
func (s *Store) SetResolver(r pack.Resolver) {
	s.mu.Lock()
	s.resolve = r
	s.mu.Unlock()
}

func (s *Store) resolver() pack.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolve != nil {
		return s.resolve
	}
	return s.resolveBase
}

func (s *Store) resolveBase(id git.ID) (git.ObjectBucket, error) {
	obj, err := s.Get(context.Background(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(pack.ErrMissingBase, "%s is not in %s", id, s.dir)
	}
	return obj, err
}

// Find tells which pack holds the object with the given id.
// It consults the packs' indexes concurrently
// and reports the first pack, in file name order, that has it.
func (s *Store) Find(ctx context.Context, id git.ID) (*pack.Pack, error) {
	found := make([]bool, len(s.packs))

	g, ctx := errgroup.WithContext(ctx)
	if s.parallel > 0 {
		g.SetLimit(s.parallel)
	}
	for i, p := range s.packs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := p.Contains(id)
			found[i] = ok
			return errors.Wrapf(err, "looking up %s in %s", id, p.Path())
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, ok := range found {
		if ok {
			return s.packs[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// Contains tells whether any pack in the store holds the given id.
func (s *Store) Contains(ctx context.Context, id git.ID) (bool, error) {
	_, err := s.Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get gets the object with the given id.
func (s *Store) Get(ctx context.Context, id git.ID) (git.ObjectBucket, error) {
	if id.Type() != s.idType {
		return nil, errors.Wrapf(bkt.ErrInvalidArgument, "%s id in %s store", id.Type(), s.idType)
	}
	p, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	f, ok, err := p.Object(id, s.resolver())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return f, nil
}

// Put implements store.Store.
// Packs are read-only, so it always fails with store.ErrReadOnly.
func (s *Store) Put(context.Context, git.ObjectType, bkt.Bucket) (git.ID, bool, error) {
	return git.ID{}, false, store.ErrReadOnly
}

// ListIDs produces all object ids in the store, in lexicographic order.
func (s *Store) ListIDs(ctx context.Context, start git.ID, f func(git.ID) error) error {
	perPack := make([][]git.ID, len(s.packs))

	g, gctx := errgroup.WithContext(ctx)
	if s.parallel > 0 {
		g.SetLimit(s.parallel)
	}
	for i, p := range s.packs {
		g.Go(func() error {
			ids := make([]git.ID, 0, p.Count())
			err := p.Index().Entries(start, func(e pack.Entry) error {
				ids = append(ids, e.ID)
				return gctx.Err()
			})
			perPack[i] = ids
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all []git.ID
	for _, ids := range perPack {
		all = append(all, ids...)
	}
	return store.ListSorted(ctx, all, start, f)
}

// Close closes all the packs.
func (s *Store) Close() error {
	var err error
	for _, p := range s.packs {
		if err2 := p.Close(); err == nil {
			err = err2
		}
	}
	s.packs = nil
	return err
}

func init() {
	store.Register("packs", func(_ context.Context, conf map[string]interface{}) (store.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		idType, err := store.IDType(conf)
		if err != nil {
			return nil, err
		}
		parallel, _ := store.Int(conf, "parallel")
		return Open(root, idType, parallel)
	})
}
