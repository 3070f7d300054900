package testutil

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

// ReadWrite permits testing a Store implementation
// by writing some data to it as a blob,
// then reading it back out to make sure it's the same.
func ReadWrite(ctx context.Context, t *testing.T, s store.Store, data []byte) {
	t.Helper()

	t1 := time.Now()
	id, added, err := s.Put(ctx, git.Blob, bkt.NewMemory(data))
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("new object not added")
	}
	t.Logf("wrote %d bytes in %s", len(data), time.Since(t1))

	want, err := git.HashObject(git.Blob, bkt.NewMemory(data), id.Type())
	if err != nil {
		t.Fatal(err)
	}
	if id != want {
		t.Errorf("got id %s, want %s", id, want)
	}

	if _, added, err = s.Put(ctx, git.Blob, bkt.NewMemory(data)); err != nil {
		t.Fatal(err)
	} else if added {
		t.Error("existing object added again")
	}

	t2 := time.Now()
	obj, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()

	typ, err := obj.ReadType()
	if err != nil {
		t.Fatal(err)
	}
	if typ != git.Blob {
		t.Errorf("got type %s, want blob", typ)
	}
	got, err := bkt.ReadAll(obj)
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("read %d bytes in %s", len(got), time.Since(t2))

	if len(got) != len(data) {
		t.Errorf("got length %d, want %d", len(got), len(data))
	} else if i := mismatch(got, data); i >= 0 {
		t.Fatalf("mismatch at position %d (of %d)", i, len(got))
	}

	missing, err := git.ParseID(strings.Repeat("0", 2*id.Type().Size()-1) + "1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = s.Get(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("getting a missing object: got %v, want ErrNotFound", err)
	}
}

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
