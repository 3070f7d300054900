package lru

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
	"github.com/bobg/bkt/store/mem"
	"github.com/bobg/bkt/testutil"
)

func TestStore(t *testing.T) {
	s, err := New(mem.New(git.SHA1), 1000, DefaultMaxBody)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(data)
	testutil.ReadWrite(context.Background(), t, s, data)
}

func TestCaching(t *testing.T) {
	ctx := context.Background()
	s, err := New(mem.New(git.SHA1), 2, 10)
	if err != nil {
		t.Fatal(err)
	}

	var ids []git.ID
	for _, body := range []string{"small", "tiny", "a body too large to cache"} {
		id, _, err := s.Put(ctx, git.Blob, bkt.NewMemory([]byte(body)))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	get := func(id git.ID, want string) {
		t.Helper()
		obj, err := s.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		defer obj.Close()
		got, err := bkt.ReadAll(obj)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte(want)) {
			t.Errorf("got %q, want %q", got, want)
		}
	}

	get(ids[0], "small")
	get(ids[0], "small")
	get(ids[2], "a body too large to cache")
	get(ids[2], "a body too large to cache")

	hits, misses := s.Stats()
	if hits != 1 || misses != 3 {
		t.Errorf("got %d hits and %d misses, want 1 and 3", hits, misses)
	}
}

func TestRegistry(t *testing.T) {
	s, err := store.Create(context.Background(), "lru", map[string]interface{}{
		"size":   float64(10),
		"nested": map[string]interface{}{"type": "mem"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Store).s.(*mem.Store); !ok {
		t.Errorf("nested store is a %T", s.(*Store).s)
	}
}
