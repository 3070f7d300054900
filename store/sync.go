package store

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
)

// Sync synchronizes two or more stores.
// It runs ListIDs on all input stores concurrently.
// When an id is found to be in some but not all stores,
// its object is copied to the stores where it's missing.
// It returns the number of objects copied.
func Sync(ctx context.Context, stores []Store) (int, error) {
	if len(stores) < 2 {
		return 0, nil
	}

	have := make([]map[git.ID]struct{}, len(stores))

	eg, ctx2 := errgroup.WithContext(ctx)
	for i, s := range stores {
		eg.Go(func() error {
			ids := make(map[git.ID]struct{})
			err := s.ListIDs(ctx2, git.ID{}, func(id git.ID) error {
				ids[id] = struct{}{}
				return ctx2.Err()
			})
			have[i] = ids
			return errors.Wrapf(err, "listing store %d", i)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	var all []git.ID
	for _, ids := range have {
		for id := range ids {
			all = append(all, id)
		}
	}

	var copied int
	err := ListSorted(ctx, all, git.ID{}, func(id git.ID) error {
		var (
			haver   = -1
			needers []int
		)
		for i, ids := range have {
			if _, ok := ids[id]; ok {
				if haver < 0 {
					haver = i
				}
			} else {
				needers = append(needers, i)
			}
		}
		if len(needers) == 0 {
			return nil
		}

		typ, body, err := getAll(ctx, stores[haver], id)
		if err != nil {
			return err
		}
		for _, n := range needers {
			got, _, err := stores[n].Put(ctx, typ, bkt.NewMemory(body))
			if err != nil {
				return errors.Wrapf(err, "storing %s in store %d", id, n)
			}
			if got != id {
				return errors.Errorf("store %d computed id %s for %s", n, got, id)
			}
			have[n][id] = struct{}{}
			copied++
		}
		return nil
	})
	return copied, err
}

func getAll(ctx context.Context, g Getter, id git.ID) (git.ObjectType, []byte, error) {
	obj, err := g.Get(ctx, id)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "getting %s", id)
	}
	defer obj.Close()

	typ, err := obj.ReadType()
	if err != nil {
		return 0, nil, errors.Wrapf(err, "reading type of %s", id)
	}
	body, err := bkt.ReadAll(obj)
	return typ, body, errors.Wrapf(err, "reading %s", id)
}
