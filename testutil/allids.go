package testutil

import (
	"context"
	"sort"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

// AllIDs writes a random set of random blobs to an empty store
// and makes sure that the right set of ids comes back in a call to ListIDs.
func AllIDs(ctx context.Context, t *testing.T, storeFactory func() store.Store) {
	if err := quick.Check(allIDsHelper(ctx, t, storeFactory), &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

func allIDsHelper(ctx context.Context, t *testing.T, storeFactory func() store.Store) func([][]byte) bool {
	return func(blobs [][]byte) bool {
		var (
			s    = storeFactory()
			want []string
		)
		for _, blob := range blobs {
			id, added, err := s.Put(ctx, git.Blob, bkt.NewMemory(blob))
			if err != nil {
				t.Fatal(err)
			}
			if added {
				want = append(want, id.String())
			}
		}
		var got []string
		err := s.ListIDs(ctx, git.ID{}, func(id git.ID) error {
			got = append(got, id.String())
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		sort.Strings(want)
		if !sort.StringsAreSorted(got) {
			t.Logf("ids out of order: %v", got)
			return false
		}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}
		return true
	}
}
