// Package repo implements a Git object store over a repository's objects directory:
// its loose objects and its packs together.
package repo

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/pack"
	"github.com/bobg/bkt/store"
	"github.com/bobg/bkt/store/loose"
	"github.com/bobg/bkt/store/packs"
)

var _ store.Store = &Store{}

// Store combines the loose objects and the packs of a repository.
// New objects are written as loose objects.
type Store struct {
	gitDir string
	idType git.IDType
	loose  *loose.Store
	packs  *packs.Store
}

// Open opens the repository whose Git directory is gitDir.
// If idType is zero it is taken from the repository's configuration.
// Pack lookups consult up to parallel packs at once; 0 means no limit.
func Open(gitDir string, idType git.IDType, parallel int) (*Store, error) {
	if idType == 0 {
		var err error
		if idType, err = DetectIDType(gitDir); err != nil {
			return nil, err
		}
	}

	objects := filepath.Join(gitDir, "objects")
	ps, err := packs.Open(filepath.Join(objects, "pack"), idType, parallel)
	if err != nil {
		return nil, errors.Wrapf(err, "opening packs of %s", gitDir)
	}
	s := &Store{
		gitDir: gitDir,
		idType: idType,
		loose:  loose.New(objects, idType),
		packs:  ps,
	}
	ps.SetResolver(s.resolveBase)
	return s, nil
}

// IDType is the repository's object id type.
func (s *Store) IDType() git.IDType {
	return s.idType
}

// Loose is the store of the repository's loose objects.
func (s *Store) Loose() *loose.Store {
	return s.loose
}

// Packs is the store of the repository's packs.
func (s *Store) Packs() *packs.Store {
	return s.packs
}

// Ref-delta bases in a pack may be anywhere in the repository.
func (s *Store) resolveBase(id git.ID) (git.ObjectBucket, error) {
	obj, err := s.Get(context.Background(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(pack.ErrMissingBase, "%s is not in %s", id, s.gitDir)
	}
	return obj, err
}

// Get gets the object with the given id,
// looking first among the loose objects, then in the packs.
func (s *Store) Get(ctx context.Context, id git.ID) (git.ObjectBucket, error) {
	obj, err := s.loose.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return s.packs.Get(ctx, id)
	}
	return obj, err
}

// Put adds an object to the store as a loose object
// if it isn't already present, loose or packed.
func (s *Store) Put(ctx context.Context, typ git.ObjectType, body bkt.Bucket) (git.ID, bool, error) {
	if bkt.CanReset(body) {
		id, err := git.HashObject(typ, body, s.idType)
		if err != nil {
			return git.ID{}, false, err
		}
		if _, err = s.packs.Find(ctx, id); err == nil {
			return id, false, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return git.ID{}, false, err
		}
		if err = bkt.Reset(body); err != nil {
			return git.ID{}, false, err
		}
	}
	return s.loose.Put(ctx, typ, body)
}

// ListIDs produces all object ids in the store, in lexicographic order.
// An object that is both loose and packed is listed once.
func (s *Store) ListIDs(ctx context.Context, start git.ID, f func(git.ID) error) error {
	var ids []git.ID
	collect := func(id git.ID) error {
		ids = append(ids, id)
		return nil
	}
	if err := s.loose.ListIDs(ctx, start, collect); err != nil {
		return errors.Wrap(err, "listing loose objects")
	}
	if err := s.packs.ListIDs(ctx, start, collect); err != nil {
		return errors.Wrap(err, "listing packed objects")
	}
	return store.ListSorted(ctx, ids, start, f)
}

// Close closes the repository's packs.
func (s *Store) Close() error {
	return s.packs.Close()
}

// DetectIDType reads the object format from the repository's config file.
// Without one, or without an extensions.objectformat setting, it is SHA-1.
func DetectIDType(gitDir string) (git.IDType, error) {
	f, err := bkt.OpenFile(filepath.Join(gitDir, "config"))
	if errors.Is(err, os.ErrNotExist) {
		return git.SHA1, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var section string
	for {
		line, eol, err := bkt.ReadUntilEolFull(f, bkt.EolLF, nil)
		if err == io.EOF {
			return git.SHA1, nil
		}
		if err != nil {
			return 0, errors.Wrap(err, "reading config")
		}
		line = bytes.TrimSpace(bkt.TrimEol(line, eol))

		switch {
		case len(line) == 0 || line[0] == '#' || line[0] == ';':
			continue
		case line[0] == '[':
			section = string(bytes.ToLower(bytes.Trim(line, "[] \t")))
			continue
		}
		if section != "extensions" {
			continue
		}
		key, val, ok := bytes.Cut(line, []byte("="))
		if !ok || !bytes.EqualFold(bytes.TrimSpace(key), []byte("objectformat")) {
			continue
		}
		return git.ParseIDType(string(bytes.TrimSpace(val)))
	}
}

func init() {
	store.Register("repo", func(_ context.Context, conf map[string]interface{}) (store.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		var idType git.IDType
		if _, ok := conf["idtype"]; ok {
			var err error
			if idType, err = store.IDType(conf); err != nil {
				return nil, err
			}
		}
		parallel, _ := store.Int(conf, "parallel")
		return Open(root, idType, parallel)
	})
}
