package store_test

import (
	"context"
	"testing"
	"testing/quick"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	. "github.com/bobg/bkt/store"
	"github.com/bobg/bkt/store/mem"
)

func TestStatMulti(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New(git.SHA1)
	)

	err := quick.Check(func(yesBlobs, noBlobs map[string]struct{}) bool {
		var (
			ids   []git.ID
			sizes = make(map[git.ID]int64)
		)
		for b := range yesBlobs {
			id, _, err := s.Put(ctx, git.Blob, bkt.NewMemory([]byte(b)))
			if err != nil {
				t.Log(err)
				return false
			}
			ids = append(ids, id)
			sizes[id] = int64(len(b))
		}

		var missing []git.ID
		for b := range noBlobs {
			if _, ok := yesBlobs[b]; ok {
				continue
			}
			id, err := git.HashObject(git.Tree, bkt.NewMemory([]byte(b)), git.SHA1)
			if err != nil {
				t.Log(err)
				return false
			}
			missing = append(missing, id)
		}

		got, err := StatMulti(ctx, s, append(ids, missing...), 4)
		if len(missing) == 0 && err != nil {
			t.Log(err)
			return false
		}
		if len(missing) > 0 {
			var me MultiErr
			if !errors.As(err, &me) {
				t.Logf("got %v, want a MultiErr", err)
				return false
			}
			if len(me) != len(missing) {
				t.Logf("got %d errors, want %d", len(me), len(missing))
				return false
			}
			for _, id := range missing {
				if !errors.Is(me[id], ErrNotFound) {
					t.Logf("%s: got %v, want ErrNotFound", id, me[id])
					return false
				}
			}
		}

		if len(got) != len(ids) {
			t.Logf("got %d results, want %d", len(got), len(ids))
			return false
		}
		for _, id := range ids {
			if info := got[id]; info.Type != git.Blob || info.Size != sizes[id] {
				t.Logf("%s: got %+v, want blob of %d bytes", id, info, sizes[id])
				return false
			}
		}
		return true
	}, nil)
	if err != nil {
		t.Error(err)
	}
}
