package packs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/pack"
	"github.com/bobg/bkt/store"
	"github.com/bobg/bkt/testutil"
)

func TestStore(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpacks")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	base := &testutil.PackObject{Type: git.Blob, Body: bytes.Repeat([]byte("0123456789\n"), 100)}
	objs1 := []testutil.PackObject{
		*base,
		{Type: git.Blob, Body: append(append([]byte(nil), base.Body...), "more\n"...), Base: 1},
	}
	objs2 := []testutil.PackObject{
		{Type: git.Commit, Body: []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nmsg\n")},
		{Type: git.Blob, Body: append([]byte("head\n"), base.Body...), External: base},
	}
	for i := 0; i < 20; i++ {
		objs2 = append(objs2, testutil.PackObject{Type: git.Blob, Body: []byte(fmt.Sprintf("filler %d", i))})
	}

	_, ids1 := testutil.WritePack(t, dir, objs1, git.SHA1, testutil.IndexOptions{Version: 2})
	_, ids2 := testutil.WritePack(t, dir, objs2, git.SHA1, testutil.IndexOptions{Version: 1})

	future := filepath.Join(dir, "pack-future.idx")
	if err = os.WriteFile(future, append([]byte{0xff, 't', 'O', 'c', 0, 0, 0, 3}, make([]byte, 1100)...), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(dir, git.SHA1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if len(s.Packs()) != 2 {
		t.Errorf("got %d packs, want 2", len(s.Packs()))
	}
	if len(s.Skipped()) != 1 || s.Skipped()[0] != future {
		t.Errorf("got skipped %v, want [%s]", s.Skipped(), future)
	}

	ctx := context.Background()
	check := func(id git.ID, want testutil.PackObject) {
		t.Helper()
		obj, err := s.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		defer obj.Close()
		typ, err := obj.ReadType()
		if err != nil {
			t.Fatal(err)
		}
		if typ != want.Type {
			t.Errorf("%s: got type %s, want %s", id, typ, want.Type)
		}
		got, err := bkt.ReadAll(obj)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want.Body) {
			t.Errorf("%s: got %q, want %q", id, got, want.Body)
		}
	}
	for i, id := range ids1 {
		check(id, objs1[i])
	}
	for i, id := range ids2 {
		// objs2[1] is a ref-delta against an object in the other pack.
		check(id, objs2[i])
	}

	var listed int
	err = s.ListIDs(ctx, git.ID{}, func(git.ID) error {
		listed++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if listed != len(ids1)+len(ids2) {
		t.Errorf("listed %d ids, want %d", listed, len(ids1)+len(ids2))
	}

	missing, _ := git.HashObject(git.Blob, bkt.NewMemory([]byte("nowhere")), git.SHA1)
	if _, err = s.Get(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, _, err = s.Put(ctx, git.Blob, bkt.NewMemory(nil)); !errors.Is(err, store.ErrReadOnly) {
		t.Errorf("got %v, want ErrReadOnly", err)
	}
}

func TestMissingBase(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpacks")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	base := &testutil.PackObject{Type: git.Blob, Body: []byte("absent base object")}
	_, ids := testutil.WritePack(t, dir, []testutil.PackObject{
		{Type: git.Blob, Body: []byte("absent base object, changed"), External: base},
	}, git.SHA1, testutil.IndexOptions{Version: 2})

	s, err := Open(dir, git.SHA1, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	obj, err := s.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()
	if _, err = obj.ReadType(); !errors.Is(err, pack.ErrMissingBase) {
		t.Errorf("got %v, want ErrMissingBase", err)
	}
}

func TestSelfReferencingDelta(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpacks")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	body := []byte("based on itself\n")
	_, ids := testutil.WritePack(t, dir, []testutil.PackObject{{
		Type:     git.Blob,
		Body:     body,
		External: &testutil.PackObject{Type: git.Blob, Body: body},
	}}, git.SHA1, testutil.IndexOptions{Version: 2})

	ctx := context.Background()
	s, err := store.Create(ctx, "packs", map[string]interface{}{"root": dir, "parallel": 1})
	if err != nil {
		t.Fatal(err)
	}
	ps, ok := s.(*Store)
	if !ok {
		t.Fatalf("got %T, want *Store", s)
	}
	defer ps.Close()

	obj, err := s.Get(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()

	_, err = obj.ReadType()
	var fe *bkt.FormatError
	if !errors.As(err, &fe) || fe.Msg != "delta chain too deep" {
		t.Errorf("got %v, want a too-deep FormatError", err)
	}
}
