package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
)

// Info is the type and size of an object.
type Info struct {
	Type git.ObjectType
	Size int64
}

// StatMulti learns the types and sizes of multiple objects with a single call,
// getting up to parallel of them at once (0 means no limit).
// Each object is read only as far as needed to learn its size.
// The returned error may be a MultiErr,
// mapping input ids to errors encountered with those specific ids.
// This function may return a successful partial result even in case of error.
// In particular, when the error return is a MultiErr,
// every input id appears in either the result map or the MultiErr map.
func StatMulti(ctx context.Context, g Getter, ids []git.ID, parallel int) (map[git.ID]Info, error) {
	var (
		mu     sync.Mutex
		res    = make(map[git.ID]Info)
		errmap MultiErr
	)

	var eg errgroup.Group
	if parallel > 0 {
		eg.SetLimit(parallel)
	}
	for _, id := range ids {
		eg.Go(func() error {
			info, err := stat(ctx, g, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errmap == nil {
					errmap = make(MultiErr)
				}
				errmap[id] = err
			} else {
				res[id] = info
			}
			return nil
		})
	}
	eg.Wait()

	if errmap != nil {
		return res, errmap
	}
	return res, nil
}

func stat(ctx context.Context, g Getter, id git.ID) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	obj, err := g.Get(ctx, id)
	if err != nil {
		return Info{}, err
	}
	defer obj.Close()

	typ, err := obj.ReadType()
	if err != nil {
		return Info{}, err
	}
	size, ok, err := bkt.Remaining(obj)
	if err != nil {
		return Info{}, err
	}
	if !ok {
		if size, err = bkt.Drain(obj); err != nil {
			return Info{}, err
		}
	}
	return Info{Type: typ, Size: size}, nil
}

// MultiErr is a type of error returned by StatMulti.
// It maps individual ids to errors encountered with them.
type MultiErr map[git.ID]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	var strs []string
	for id, err := range e {
		strs = append(strs, fmt.Sprintf("%s: %s", id, err))
	}
	sort.Strings(strs)
	return "error(s): " + strings.Join(strs, "; ")
}
