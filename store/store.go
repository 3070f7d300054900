// Package store defines Git object stores
// and a registry for creating them from configuration.
package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
)

// Getter is a read-only Store (qv).
type Getter interface {
	// Get gets an object by its id.
	// The caller must close the result.
	Get(context.Context, git.ID) (git.ObjectBucket, error)

	// ListIDs calls a function for each object id in the store in lexicographic order,
	// beginning with the first id _after_ the specified one.
	//
	// The calls reflect at least the set of ids
	// known at the moment ListIDs was called.
	// It is unspecified whether later changes,
	// that happen concurrently with ListIDs,
	// are reflected.
	//
	// If the callback function returns an error,
	// ListIDs exits with that error.
	ListIDs(context.Context, git.ID, func(git.ID) error) error
}

// Store is a Git object store.
// Each object is retrieved by its id,
// the hash of its header and body.
type Store interface {
	Getter

	// Put adds an object with the given type and body to the store
	// if it was not already present.
	// It reads body to its end but does not close it.
	// It returns the object's id and a boolean that is true iff the object had to be added.
	Put(ctx context.Context, typ git.ObjectType, body bkt.Bucket) (id git.ID, added bool, err error)
}

var (
	// ErrNotFound is the error returned
	// when a Getter tries to access a non-existent object.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is the error returned by Put on a store that cannot add objects.
	ErrReadOnly = errors.New("read-only store")
)

// ListSorted calls f for each distinct id in ids after start, in order.
// It sorts ids in place.
func ListSorted(ctx context.Context, ids []git.ID, start git.ID, f func(git.ID) error) error {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	index := 0
	if !start.IsZero() {
		index = sort.Search(len(ids), func(n int) bool {
			return start.Less(ids[n])
		})
	}
	for i := index; i < len(ids); i++ {
		if i > index && ids[i] == ids[i-1] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f(ids[i]); err != nil {
			return err
		}
	}
	return nil
}
