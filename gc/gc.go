// Package gc removes redundant objects from a store.
package gc

import (
	"context"

	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

// Store is a store objects can be deleted from.
type Store interface {
	store.Getter
	Delete(context.Context, git.ID) error
}

// Keep is a set of ids whose objects must not be deleted.
type Keep interface {
	Contains(context.Context, git.ID) (bool, error)
}

// Run deletes from s every object whose id is in drop.
// It reports the number of objects deleted.
//
// With s the loose objects of a repository
// and drop its packs,
// this is the equivalent of git prune-packed.
func Run(ctx context.Context, s Store, drop Keep) (int, error) {
	var n int
	err := s.ListIDs(ctx, git.ID{}, func(id git.ID) error {
		found, err := drop.Contains(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		n++
		return s.Delete(ctx, id)
	})
	return n, err
}
