package decompress

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bobg/bkt"
)

const payload = "blob 26\x00ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func compress(t *testing.T, algo Algorithm, data []byte) []byte {
	t.Helper()

	var (
		buf bytes.Buffer
		w   io.WriteCloser
		err error
	)
	switch algo {
	case Zlib:
		w = zlib.NewWriter(&buf)
	case Deflate:
		w, err = flate.NewWriter(&buf, flate.BestCompression)
	case Gzip, ParallelGzip:
		w = gzip.NewWriter(&buf)
	case Zstd:
		w, err = zstd.NewWriter(&buf)
	case LZ4:
		w = lz4.NewWriter(&buf)
	}
	if err != nil {
		t.Fatal(err)
	}
	if _, err = w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTrailer(t *testing.T) {
	for _, algo := range []Algorithm{Zlib, Deflate, Gzip} {
		t.Run(algo.String(), func(t *testing.T) {
			src := append(compress(t, algo, []byte(payload)), 255, 100, 101)
			inner := bkt.NewMemory(src)

			d := New(bkt.NoClose(inner), algo)
			got, err := bkt.ReadAll(d)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != payload {
				t.Errorf("got %q, want %q", got, payload)
			}
			if len(got) != 34 {
				t.Errorf("got %d bytes, want 34", len(got))
			}
			if err = d.Close(); err != nil {
				t.Fatal(err)
			}

			rest, err := bkt.ReadAll(inner)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(rest, []byte{255, 100, 101}) {
				t.Errorf("got trailing bytes %v, want [255 100 101]", rest)
			}
		})
	}
}

func TestTrailerAcrossFragments(t *testing.T) {
	src := append(compress(t, Zlib, []byte(payload)), 255, 100, 101)

	var parts []bkt.Bucket
	for i := range src {
		parts = append(parts, bkt.NewMemory(src[i:i+1]))
	}
	inner := bkt.NewAggregate(parts...)

	got, err := bkt.ReadAll(NewZlib(bkt.NoClose(inner)))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Errorf("got %q", got)
	}
	rest, err := bkt.ReadAll(inner)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rest, []byte{255, 100, 101}) {
		t.Errorf("got trailing bytes %v", rest)
	}
}

func TestStreamAlgorithms(t *testing.T) {
	data := bytes.Repeat([]byte(payload), 1000)
	for _, algo := range []Algorithm{Zstd, LZ4, ParallelGzip} {
		t.Run(algo.String(), func(t *testing.T) {
			d := New(bkt.NewMemory(compress(t, algo, data)), algo)
			defer d.Close()

			got, err := bkt.ReadAll(d)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("got %d bytes, want %d", len(got), len(data))
			}
		})
	}
}

func TestReset(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 5000)
	d := NewZlib(bkt.NewMemory(compress(t, Zlib, data)))
	defer d.Close()

	if _, err := bkt.ReadFull(d, 100); err != nil {
		t.Fatal(err)
	}

	dup, err := d.Duplicate(true)
	if err != nil {
		t.Fatal(err)
	}
	defer dup.Close()

	if _, err = d.Duplicate(false); err == nil {
		t.Error("mid-stream duplicate succeeded")
	}

	if err = d.Reset(); err != nil {
		t.Fatal(err)
	}
	for _, b := range []bkt.Bucket{d, dup} {
		got, err := bkt.ReadAll(b)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("%s: got %d bytes, want %d", bkt.Name(b), len(got), len(data))
		}
	}
}

func TestCorrupt(t *testing.T) {
	src := compress(t, Zlib, []byte(payload))
	src = src[:len(src)-3]
	_, err := bkt.ReadAll(NewZlib(bkt.NewMemory(src)))
	if err == nil {
		t.Fatal("truncated stream decoded without error")
	}
}
