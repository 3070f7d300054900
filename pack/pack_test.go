package pack

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/testutil"
)

func blobs(n int) []testutil.PackObject {
	objs := make([]testutil.PackObject, n)
	for i := range objs {
		objs[i] = testutil.PackObject{Type: git.Blob, Body: []byte(fmt.Sprintf("blob number %d\n", i))}
	}
	return objs
}

func TestIndexLookup(t *testing.T) {
	cases := []testutil.IndexOptions{
		{Version: 1},
		{Version: 2},
		{Version: 2, LargeOffsets: true},
	}

	objs := blobs(600)
	for _, opts := range cases {
		t.Run(fmt.Sprintf("v%d_large_%v", opts.Version, opts.LargeOffsets), func(t *testing.T) {
			dir, err := os.MkdirTemp("", "bktpack")
			if err != nil {
				t.Fatal(err)
			}
			defer os.RemoveAll(dir)

			packData, entries := testutil.BuildPack(t, objs, git.SHA1)
			idxData := testutil.BuildIndex(t, entries, packData[len(packData)-20:], git.SHA1, opts)
			idxPath := filepath.Join(dir, "test.idx")
			if err = os.WriteFile(idxPath, idxData, 0644); err != nil {
				t.Fatal(err)
			}

			idx, err := OpenIndex(idxPath, git.SHA1)
			if err != nil {
				t.Fatal(err)
			}
			defer idx.Close()

			if idx.Version() != opts.Version {
				t.Errorf("got version %d, want %d", idx.Version(), opts.Version)
			}
			if idx.Count() != len(objs) {
				t.Errorf("got count %d, want %d", idx.Count(), len(objs))
			}

			for _, e := range entries {
				start, end := idx.bucket(e.ID.Bytes()[0])
				atomic.StoreInt64(&idx.comparisons, 0)

				offset, ok, err := idx.Lookup(e.ID)
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatalf("%s not found", e.ID)
				}
				if offset != e.Offset {
					t.Errorf("%s: got offset %d, want %d", e.ID, offset, e.Offset)
				}

				// sort.Search makes at most ceil(log2(n+1)) comparisons.
				if got, max := atomic.LoadInt64(&idx.comparisons), int64(bits.Len(uint(end-start))); got > max {
					t.Errorf("%s: %d comparisons among %d candidates, want at most %d", e.ID, got, end-start, max)
				}
			}

			missing, _ := git.ParseID(strings.Repeat("ab", 20))
			if _, ok, err := idx.Lookup(missing); err != nil || ok {
				t.Errorf("looking up a missing id: ok %v, err %v", ok, err)
			}

			var prev git.ID
			for i := 0; i < idx.Count(); i++ {
				e, err := idx.Entry(i)
				if err != nil {
					t.Fatal(err)
				}
				if i > 0 && !prev.Less(e.ID) {
					t.Errorf("entry %d is out of order", i)
				}
				prev = e.ID
			}
		})
	}
}

func TestIndexLookupReadsFewEntries(t *testing.T) {
	// Every id shares a first byte, so the whole index is one fan-out bucket.
	const n = 4096
	entries := make([]testutil.IndexEntry, n)
	for i := range entries {
		b := make([]byte, 20)
		b[0], b[1], b[2] = 0x42, byte(i>>8), byte(i)
		for j := 3; j < len(b); j++ {
			b[j] = byte(i * j)
		}
		id, err := git.IDFromBytes(git.SHA1, b)
		if err != nil {
			t.Fatal(err)
		}
		entries[i] = testutil.IndexEntry{ID: id, Offset: int64(12 + 10*i)}
	}

	for _, version := range []int{1, 2} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			dir := t.TempDir()
			idxData := testutil.BuildIndex(t, entries, make([]byte, 20), git.SHA1, testutil.IndexOptions{Version: version})
			idxPath := filepath.Join(dir, "test.idx")
			if err := os.WriteFile(idxPath, idxData, 0644); err != nil {
				t.Fatal(err)
			}
			idx, err := OpenIndex(idxPath, git.SHA1)
			if err != nil {
				t.Fatal(err)
			}
			defer idx.Close()

			if start, end := idx.bucket(0x42); end-start != n {
				t.Fatalf("bucket holds %d entries, want %d", end-start, n)
			}

			stride := int64(idx.stride())
			max := int64(bits.Len(n))*20 + stride
			for i := 0; i < n; i += 97 {
				atomic.StoreInt64(&idx.lookupBytes, 0)
				offset, ok, err := idx.Lookup(entries[i].ID)
				if err != nil {
					t.Fatal(err)
				}
				if !ok || offset != entries[i].Offset {
					t.Errorf("entry %d: got %d, %v; want %d, true", i, offset, ok, entries[i].Offset)
				}
				if got := atomic.LoadInt64(&idx.lookupBytes); got > max {
					t.Errorf("entry %d: lookup read %d bytes, want at most %d", i, got, max)
				}
			}

			b := entries[5].ID.Bytes()
			b[19] ^= 0xff
			missing, _ := git.IDFromBytes(git.SHA1, b)
			if _, ok, err := idx.Lookup(missing); err != nil || ok {
				t.Errorf("looking up a missing id: ok %v, err %v", ok, err)
			}
		})
	}
}

func TestIndexEntries(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	packPath, ids := testutil.WritePack(t, dir, blobs(50), git.SHA1, testutil.IndexOptions{Version: 2})
	p, err := Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var all []git.ID
	err = p.Index().Entries(git.ID{}, func(e Entry) error {
		all = append(all, e.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(ids) {
		t.Fatalf("got %d entries, want %d", len(all), len(ids))
	}

	var rest []git.ID
	err = p.Index().Entries(all[9], func(e Entry) error {
		rest = append(rest, e.ID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(all[10:], rest, cmp.Comparer(func(a, b git.ID) bool { return a == b })); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexFutureVersion(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	data := append([]byte{0xff, 't', 'O', 'c', 0, 0, 0, 3}, make([]byte, 2000)...)
	path := filepath.Join(dir, "future.idx")
	if err = os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err = OpenIndex(path, git.SHA1); !errors.Is(err, ErrNoIndex) {
		t.Errorf("got %v, want ErrNoIndex", err)
	}
}

func deltaObjects() []testutil.PackObject {
	base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 50)
	v2 := append(append([]byte(nil), base...), "and then some\n"...)
	v3 := append([]byte("preamble\n"), v2...)
	return []testutil.PackObject{
		{Type: git.Blob, Body: base},
		{Type: git.Blob, Body: v2, Base: 1},
		{Type: git.Blob, Body: v3, Base: 2, RefDelta: true},
		{Type: git.Tree, Body: []byte("not really a tree")},
		{Type: git.Blob, Body: base[:100], Base: 3},
	}
}

func TestPackObjects(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	objs := deltaObjects()
	packPath, ids := testutil.WritePack(t, dir, objs, git.SHA1, testutil.IndexOptions{Version: 2})

	p, err := Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var resolve Resolver
	resolve = func(id git.ID) (git.ObjectBucket, error) {
		f, ok, err := p.Object(id, resolve)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrMissingBase
		}
		return f, nil
	}

	wantDepth := []int{0, 1, 2, 0, 3}
	for i, obj := range objs {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			f, ok, err := p.Object(ids[i], resolve)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("not found")
			}
			defer f.Close()

			typ, err := f.ReadType()
			if err != nil {
				t.Fatal(err)
			}
			if typ != obj.Type {
				t.Errorf("got type %s, want %s", typ, obj.Type)
			}
			if depth, _ := f.Depth(); depth != wantDepth[i] {
				t.Errorf("got depth %d, want %d", depth, wantDepth[i])
			}
			if size, _ := f.Size(); size != int64(len(obj.Body)) {
				t.Errorf("got size %d, want %d", size, len(obj.Body))
			}

			for pass := 0; pass < 2; pass++ {
				got, err := bkt.ReadAll(f)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, obj.Body) {
					t.Errorf("pass %d: got %d bytes, want %d", pass, len(got), len(obj.Body))
				}
				if err = f.Reset(); err != nil {
					t.Fatal(err)
				}
			}
		})
	}

	// Without a resolver a ref-delta cannot be read.
	f, _, err := p.Object(ids[2], nil)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err = f.ReadType(); !errors.Is(err, ErrMissingBase) {
		t.Errorf("got %v, want ErrMissingBase", err)
	}
}

func TestConcurrentObjects(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	objs := blobs(200)
	packPath, ids := testutil.WritePack(t, dir, objs, git.SHA1, testutil.IndexOptions{Version: 2})
	p, err := Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		go func() {
			for i := w; i < len(ids); i += 8 {
				f, _, err := p.Object(ids[i], nil)
				if err != nil {
					errs <- err
					return
				}
				got, err := bkt.ReadAll(f)
				f.Close()
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, objs[i].Body) {
					errs <- fmt.Errorf("object %d: got %q", i, got)
					return
				}
			}
			errs <- nil
		}()
	}
	for w := 0; w < 8; w++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestVerify(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	objs := append(deltaObjects(), blobs(40)...)
	packPath, ids := testutil.WritePack(t, dir, objs, git.SHA1, testutil.IndexOptions{Version: 2})

	p, err := Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	report, err := p.Verify(context.Background(), 4)
	p.Close()
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Objects) != len(objs) {
		t.Fatalf("got %d objects, want %d", len(report.Objects), len(objs))
	}
	for i, info := range report.Objects {
		if info.ID != ids[i] {
			t.Errorf("object %d: got %s, want %s", i, info.ID, ids[i])
		}
		if info.Size != int64(len(objs[i].Body)) {
			t.Errorf("object %d: got size %d, want %d", i, info.Size, len(objs[i].Body))
		}
	}
	if len(report.XXH64) != 8 {
		t.Errorf("got %d-byte xxh64", len(report.XXH64))
	}

	// Flip a byte inside the last object's compressed data.
	data, err := os.ReadFile(packPath)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-25] ^= 0xff
	if err = os.WriteFile(packPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	p, err = Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	if _, err = p.Verify(context.Background(), 0); err == nil {
		t.Error("corrupt pack verified")
	}
}

func TestPackCountMismatch(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	packPath, _ := testutil.WritePack(t, dir, blobs(3), git.SHA1, testutil.IndexOptions{Version: 2})
	data, err := os.ReadFile(packPath)
	if err != nil {
		t.Fatal(err)
	}
	data[11] = 4
	if err = os.WriteFile(packPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(packPath, "", git.SHA1)
	var fe *bkt.FormatError
	if !errors.As(err, &fe) {
		t.Errorf("got %v, want a FormatError", err)
	}
}

func TestSelfReferencingDelta(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// A ref-delta whose base id is its own.
	body := []byte("i am my own base\n")
	objs := []testutil.PackObject{{
		Type:     git.Blob,
		Body:     body,
		External: &testutil.PackObject{Type: git.Blob, Body: body},
	}}
	packPath, ids := testutil.WritePack(t, dir, objs, git.SHA1, testutil.IndexOptions{Version: 2})

	p, err := Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	defer func(old int) { maxDeltaDepth = old }(maxDeltaDepth)
	maxDeltaDepth = 50

	f, ok, err := p.Object(ids[0], p.resolveInPack)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("not found")
	}
	defer f.Close()

	_, err = f.ReadType()
	var fe *bkt.FormatError
	if !errors.As(err, &fe) || fe.Kind != "pack frame" || fe.Msg != "delta chain too deep" {
		t.Fatalf("got %v, want a too-deep FormatError", err)
	}
	if _, err = bkt.ReadAll(f); !errors.As(err, &fe) {
		t.Errorf("read got %v, want a FormatError", err)
	}

	if _, err = p.Verify(context.Background(), 1); !errors.As(err, &fe) {
		t.Errorf("verify got %v, want a FormatError", err)
	}
}

func TestDeltaDepthLimit(t *testing.T) {
	dir, err := os.MkdirTemp("", "bktpack")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	objs := deltaObjects()
	packPath, ids := testutil.WritePack(t, dir, objs, git.SHA1, testutil.IndexOptions{Version: 2})
	p, err := Open(packPath, "", git.SHA1)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	defer func(old int) { maxDeltaDepth = old }(maxDeltaDepth)

	// The last object has a chain of three deltas.
	last := len(objs) - 1
	for _, tc := range []struct {
		limit int
		ok    bool
	}{{3, true}, {2, false}} {
		t.Run(fmt.Sprintf("limit_%d", tc.limit), func(t *testing.T) {
			maxDeltaDepth = tc.limit
			f, _, err := p.Object(ids[last], p.resolveInPack)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			got, err := bkt.ReadAll(f)
			if tc.ok {
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, objs[last].Body) {
					t.Errorf("got %d bytes, want %d", len(got), len(objs[last].Body))
				}
				return
			}
			var fe *bkt.FormatError
			if !errors.As(err, &fe) || fe.Msg != "delta chain too deep" {
				t.Errorf("got %v, want a too-deep FormatError", err)
			}
		})
	}
}
