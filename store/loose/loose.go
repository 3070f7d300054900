// Package loose implements a Git object store as a directory of loose objects,
// the objects/xx/yyyy... layout of a Git repository.
package loose

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/bobg/flock"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/digest"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

var _ store.Store = &Store{}

// Store is a file-based implementation of a Git object store.
type Store struct {
	root    string
	idType  git.IDType
	flocker flock.Locker
}

// New produces a new Store keeping objects beneath root,
// normally a repository's objects directory.
func New(root string, idType git.IDType) *Store {
	return &Store{root: root, idType: idType}
}

// Root is the directory holding the objects.
func (s *Store) Root() string {
	return s.root
}

// IDType is the type of the store's object ids.
func (s *Store) IDType() git.IDType {
	return s.idType
}

func (s *Store) objpath(id git.ID) string {
	h := id.String()
	return filepath.Join(s.root, h[:2], h[2:])
}

// Get gets the object with the given id.
func (s *Store) Get(_ context.Context, id git.ID) (git.ObjectBucket, error) {
	if id.Type() != s.idType {
		return nil, errors.Wrapf(bkt.ErrInvalidArgument, "%s id in %s store", id.Type(), s.idType)
	}
	path := s.objpath(id)
	f, err := bkt.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return git.NewLooseObject(f, s.idType), nil
}

// Has tells whether the store has the object with the given id
// without opening it.
func (s *Store) Has(id git.ID) (bool, error) {
	_, err := os.Stat(s.objpath(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Put adds an object to the store if it wasn't already present.
// The object is hashed and compressed in a single pass into a temporary file,
// which is then renamed into place.
func (s *Store) Put(_ context.Context, typ git.ObjectType, body bkt.Bucket) (git.ID, bool, error) {
	if !typ.Valid() {
		return git.ID{}, false, errors.Wrapf(bkt.ErrInvalidArgument, "object type %s", typ)
	}

	size, ok, err := bkt.Remaining(body)
	if err != nil {
		return git.ID{}, false, errors.Wrap(err, "getting body length")
	}
	if !ok {
		data, err := bkt.ReadAll(body)
		if err != nil {
			return git.ID{}, false, errors.Wrap(err, "reading body")
		}
		body, size = bkt.NewMemory(data), int64(len(data))
	}

	if err = os.MkdirAll(s.root, 0755); err != nil {
		return git.ID{}, false, errors.Wrapf(err, "ensuring path %s exists", s.root)
	}
	tmp, err := os.CreateTemp(s.root, "tmp_obj_")
	if err != nil {
		return git.ID{}, false, errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h, err := digest.New(bkt.NewAggregate(bkt.NewMemory(git.Header(typ, size)), bkt.NoClose(body)), s.idType.Digest())
	if err != nil {
		return git.ID{}, false, err
	}
	zw := zlib.NewWriter(tmp)
	if _, err = bkt.Copy(zw, h); err != nil {
		return git.ID{}, false, errors.Wrapf(err, "writing data to %s", tmp.Name())
	}
	if err = zw.Close(); err != nil {
		return git.ID{}, false, errors.Wrapf(err, "finishing %s", tmp.Name())
	}
	if err = tmp.Close(); err != nil {
		return git.ID{}, false, errors.Wrapf(err, "closing %s", tmp.Name())
	}

	id, err := git.IDFromBytes(s.idType, h.Sum())
	if err != nil {
		return git.ID{}, false, err
	}

	added, err := s.install(tmp.Name(), id)
	return id, added, err
}

// Delete removes the object with the given id,
// and its fan-out directory if that is left empty.
// Deleting an absent object is not an error.
func (s *Store) Delete(_ context.Context, id git.ID) error {
	if err := s.flocker.Lock(s.lockpath()); err != nil {
		return errors.Wrap(err, "locking store")
	}
	defer s.flocker.Unlock(s.lockpath())

	path := s.objpath(id)
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "removing %s", path)
	}

	// Fails harmlessly when other objects remain.
	os.Remove(filepath.Dir(path))
	return nil
}

func (s *Store) lockpath() string {
	return filepath.Join(s.root, "bkt.lock")
}

// install renames the file at tmp to the object's path unless the object already exists.
func (s *Store) install(tmp string, id git.ID) (bool, error) {
	if err := s.flocker.Lock(s.lockpath()); err != nil {
		return false, errors.Wrap(err, "locking store")
	}
	defer s.flocker.Unlock(s.lockpath())

	path := s.objpath(id)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.Wrapf(err, "ensuring path %s exists", dir)
	}
	if err := os.Chmod(tmp, 0444); err != nil {
		return false, errors.Wrapf(err, "setting mode of %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return true, nil
}

// ListIDs produces all object ids in the store, in lexicographic order.
func (s *Store) ListIDs(ctx context.Context, start git.ID, f func(git.ID) error) error {
	topLevel, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.root)
	}

	var startHex string
	if !start.IsZero() {
		startHex = start.String()
	}
	topIndex := 0
	if startHex != "" {
		topIndex = sort.Search(len(topLevel), func(n int) bool {
			return topLevel[n].Name() >= startHex[:2]
		})
	}

	restLen := 2*s.idType.Size() - 2
	for i := topIndex; i < len(topLevel); i++ {
		topInfo := topLevel[i]
		if !topInfo.IsDir() {
			continue
		}
		topName := topInfo.Name()
		if len(topName) != 2 || !isHex(topName) {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(s.root, topName))
		if err != nil {
			return errors.Wrapf(err, "reading dir %s/%s", s.root, topName)
		}
		index := 0
		if startHex != "" && topName == startHex[:2] {
			index = sort.Search(len(entries), func(n int) bool {
				return entries[n].Name() > startHex[2:]
			})
		}
		for j := index; j < len(entries); j++ {
			name := entries[j].Name()
			if entries[j].IsDir() || len(name) != restLen {
				continue
			}
			id, err := git.ParseID(topName + name)
			if err != nil {
				continue
			}
			if err = ctx.Err(); err != nil {
				return err
			}
			if err = f(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func init() {
	store.Register("loose", func(_ context.Context, conf map[string]interface{}) (store.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		idType, err := store.IDType(conf)
		if err != nil {
			return nil, err
		}
		return New(root, idType), nil
	})
}
