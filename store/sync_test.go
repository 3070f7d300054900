package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	. "github.com/bobg/bkt/store"
	"github.com/bobg/bkt/store/loose"
	"github.com/bobg/bkt/store/mem"
)

func TestSync(t *testing.T) {
	const text = `abc def ghi jkl mno pqr stu`

	var (
		ctx    = context.Background()
		words  = strings.Fields(text)
		stores = make([]Store, 0, len(words))
	)
	for i := range words {
		var s Store
		if i%2 == 0 {
			s = mem.New(git.SHA1)
		} else {
			s = loose.New(t.TempDir(), git.SHA1)
		}
		stores = append(stores, s)
		for j, word := range words {
			if i == j {
				continue
			}

			_, _, err := s.Put(ctx, git.Blob, bkt.NewMemory([]byte(word)))
			if err != nil {
				t.Fatal(err)
			}
		}
	}

	copied, err := Sync(ctx, stores)
	if err != nil {
		t.Fatal(err)
	}
	if copied != len(words) {
		t.Errorf("copied %d objects, want %d", copied, len(words))
	}

	list := func(s Store) []string {
		var ids []string
		err := s.ListIDs(ctx, git.ID{}, func(id git.ID) error {
			ids = append(ids, id.String())
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		return ids
	}

	ids := list(stores[0])
	if len(ids) != len(words) {
		t.Fatalf("got %d ids, want %d", len(ids), len(words))
	}
	for i := 1; i < len(stores); i++ {
		if diff := cmp.Diff(ids, list(stores[i])); diff != "" {
			t.Errorf("store %d: mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestListSorted(t *testing.T) {
	var ids []git.ID
	for _, s := range []string{"c", "a", "b", "a", "c"} {
		id, err := git.HashObject(git.Blob, bkt.NewMemory([]byte(s)), git.SHA1)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	var got []git.ID
	err := ListSorted(context.Background(), ids, git.ID{}, func(id git.ID) error {
		got = append(got, id)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d ids, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Less(got[i]) {
			t.Errorf("ids %d and %d out of order", i-1, i)
		}
	}

	var rest []git.ID
	err = ListSorted(context.Background(), ids, got[0], func(id git.ID) error {
		rest = append(rest, id)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0] != got[1] || rest[1] != got[2] {
		t.Errorf("got %v after %s, want %v", rest, got[0], got[1:])
	}
}

func TestInt(t *testing.T) {
	conf := map[string]interface{}{"a": 3, "b": float64(4), "c": 4.5, "d": "5"}
	for key, want := range map[string]int{"a": 3, "b": 4} {
		if got, ok := Int(conf, key); !ok || got != want {
			t.Errorf("%s: got %d, %v; want %d", key, got, ok, want)
		}
	}
	for _, key := range []string{"c", "d", "e"} {
		if _, ok := Int(conf, key); ok {
			t.Errorf("%s: unexpectedly ok", key)
		}
	}
}
