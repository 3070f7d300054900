// Package decompress implements buckets that decompress their inner buckets.
//
// The zlib, deflate and gzip decoders read their input one byte at a time
// where the format requires it,
// so they stop exactly at the end of the compressed data.
// Whatever follows stays in the inner bucket.
// The other decoders may read their inner bucket to its end.
package decompress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/bobg/bkt"
)

// Algorithm is a compression format.
type Algorithm int

const (
	Zlib Algorithm = iota + 1
	Deflate
	Gzip
	Zstd
	LZ4
	// ParallelGzip decodes large gzip streams using several goroutines.
	ParallelGzip
)

func (a Algorithm) String() string {
	switch a {
	case Zlib:
		return "zlib"
	case Deflate:
		return "deflate"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	case ParallelGzip:
		return "pgzip"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// Exact tells whether the algorithm's decoder leaves bytes after the compressed data unread.
func (a Algorithm) Exact() bool {
	switch a {
	case Zlib, Deflate, Gzip:
		return true
	}
	return false
}

func (a Algorithm) newReader(r bkt.Reader) (io.ReadCloser, error) {
	switch a {
	case Zlib:
		return zlib.NewReader(r)

	case Deflate:
		return flate.NewReader(r), nil

	case Gzip:
		z, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		z.Multistream(false)
		return z, nil

	case Zstd:
		d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil

	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	case ParallelGzip:
		return pgzip.NewReader(r)
	}
	return nil, errors.Wrapf(bkt.ErrInvalidArgument, "unknown compression algorithm %d", int(a))
}

// DefaultBufferSize is the size of a Bucket's output buffer.
const DefaultBufferSize = 16384

var (
	_ bkt.Bucket     = &Bucket{}
	_ bkt.Positioner = &Bucket{}
	_ bkt.Resetter   = &Bucket{}
	_ bkt.Duplicator = &Bucket{}
)

// Bucket yields the decompressed contents of an inner bucket.
type Bucket struct {
	inner bkt.Bucket
	algo  Algorithm

	r          io.ReadCloser // created on first read
	buf        []byte
	start, end int
	pos        int64
	eof        bool
	closed     bool
}

// New produces a bucket decompressing inner.
// The result owns inner;
// wrap inner with bkt.NoClose to read what follows the compressed data.
func New(inner bkt.Bucket, algo Algorithm) *Bucket {
	return &Bucket{inner: inner, algo: algo}
}

// NewZlib is New(inner, Zlib).
func NewZlib(inner bkt.Bucket) *Bucket {
	return New(inner, Zlib)
}

func (b *Bucket) fill() error {
	if b.r == nil {
		r, err := b.algo.newReader(bkt.AsReader(b.inner))
		if err != nil {
			return b.wrap(err)
		}
		b.r = r
		if b.buf == nil {
			b.buf = make([]byte, DefaultBufferSize)
		}
	}
	n, err := b.r.Read(b.buf)
	b.start, b.end = 0, n
	if err == io.EOF {
		b.eof = true
		return nil
	}
	return b.wrap(err)
}

func (b *Bucket) wrap(err error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrapf(err, "decompressing %s", b.algo)
}

// Read implements bkt.Bucket.
func (b *Bucket) Read(max int) ([]byte, error) {
	if max < 1 {
		return nil, errors.Wrapf(bkt.ErrInvalidArgument, "%s: read size %d", b.Name(), max)
	}
	if b.closed {
		return nil, errors.New("read from closed decompressor")
	}
	if b.start == b.end {
		if b.eof {
			return nil, io.EOF
		}
		if err := b.fill(); err != nil {
			return nil, err
		}
		if b.start == b.end {
			if b.eof {
				return nil, io.EOF
			}
			return nil, nil
		}
	}
	n := b.end - b.start
	if n > max {
		n = max
	}
	data := b.buf[b.start : b.start+n]
	b.start += n
	b.pos += int64(n)
	return data, nil
}

// Peek implements bkt.Bucket.
// It never decompresses; it reports only what is already decompressed.
func (b *Bucket) Peek(bool) ([]byte, error) {
	if b.start == b.end && b.eof {
		return nil, io.EOF
	}
	return b.buf[b.start:b.end], nil
}

// Position implements bkt.Positioner.
func (b *Bucket) Position() (int64, bool) {
	return b.pos, true
}

// CanReset implements bkt.Resetter.
func (b *Bucket) CanReset() bool {
	return bkt.CanReset(b.inner)
}

// Reset implements bkt.Resetter.
func (b *Bucket) Reset() error {
	if err := bkt.Reset(b.inner); err != nil {
		return err
	}
	if err := b.closeReader(); err != nil {
		return err
	}
	b.start, b.end = 0, 0
	b.pos = 0
	b.eof = false
	return nil
}

// Duplicate implements bkt.Duplicator.
// Decoder state cannot be copied, so only a reset duplicate is possible.
func (b *Bucket) Duplicate(reset bool) (bkt.Bucket, error) {
	if !reset {
		return nil, errors.Wrap(bkt.ErrDuplicateUnsupported, "decompressor mid-stream")
	}
	d, err := bkt.Duplicate(b.inner, true)
	if err != nil {
		return nil, err
	}
	return New(d, b.algo), nil
}

func (b *Bucket) closeReader() error {
	if b.r == nil {
		return nil
	}
	err := b.r.Close()
	b.r = nil
	return errors.Wrapf(err, "closing %s decoder", b.algo)
}

// Close implements bkt.Bucket.
func (b *Bucket) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.closeReader()
	if err2 := b.inner.Close(); err == nil {
		err = err2
	}
	return err
}

// Name implements bkt.Namer.
func (b *Bucket) Name() string {
	return b.algo.String() + "(" + bkt.Name(b.inner) + ")"
}
