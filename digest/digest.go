// Package digest implements a bucket that hashes the bytes read through it.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/bobg/bkt"
)

// Algorithm is a hash algorithm.
type Algorithm int

const (
	SHA1 Algorithm = iota + 1
	SHA256
	MD5
	CRC32
	Blake3
	XXH64
)

func (a Algorithm) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	case MD5:
		return "md5"
	case CRC32:
		return "crc32"
	case Blake3:
		return "blake3"
	case XXH64:
		return "xxh64"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case MD5:
		return md5.New(), nil
	case CRC32:
		return crc32.NewIEEE(), nil
	case Blake3:
		return blake3.New(), nil
	case XXH64:
		return xxhash.New(), nil
	}
	return nil, errors.Wrapf(bkt.ErrInvalidArgument, "unknown hash algorithm %d", int(a))
}

// Size is the length of the algorithm's digests.
func (a Algorithm) Size() int {
	h, err := a.New()
	if err != nil {
		return 0
	}
	return h.Size()
}

var (
	_ bkt.Bucket     = &Bucket{}
	_ bkt.Lengther   = &Bucket{}
	_ bkt.Positioner = &Bucket{}
	_ bkt.Resetter   = &Bucket{}
	_ bkt.Duplicator = &Bucket{}
)

// Bucket passes through the bytes of an inner bucket, hashing them.
// The digest is available once the inner bucket reaches its end.
type Bucket struct {
	inner    bkt.Bucket
	algo     Algorithm
	h        hash.Hash
	n        int64
	sum      []byte
	onResult func([]byte)
}

// New produces a bucket hashing inner with the given algorithm.
// The result owns inner.
func New(inner bkt.Bucket, algo Algorithm) (*Bucket, error) {
	h, err := algo.New()
	if err != nil {
		return nil, err
	}
	return &Bucket{inner: inner, algo: algo, h: h}, nil
}

// NewNotify is like New but also calls f with the digest when it is computed.
// If the bucket is closed before reaching its end,
// f receives the digest of what was read.
func NewNotify(inner bkt.Bucket, algo Algorithm, f func([]byte)) (*Bucket, error) {
	b, err := New(inner, algo)
	if err != nil {
		return nil, err
	}
	b.onResult = f
	return b, nil
}

// Read implements bkt.Bucket.
func (b *Bucket) Read(max int) ([]byte, error) {
	data, err := b.inner.Read(max)
	if err == io.EOF {
		b.finish()
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	b.h.Write(data)
	b.n += int64(len(data))
	return data, nil
}

func (b *Bucket) finish() {
	if b.sum != nil {
		return
	}
	b.sum = b.h.Sum(nil)
	if b.onResult != nil {
		b.onResult(b.sum)
	}
}

// Peek implements bkt.Bucket.
func (b *Bucket) Peek(noPoll bool) ([]byte, error) {
	return b.inner.Peek(noPoll)
}

// Sum is the digest of the inner bucket's contents,
// or nil if the end has not been reached.
func (b *Bucket) Sum() []byte {
	return b.sum
}

// Len is the number of bytes hashed so far.
func (b *Bucket) Len() int64 {
	return b.n
}

// Algorithm is the bucket's hash algorithm.
func (b *Bucket) Algorithm() Algorithm {
	return b.algo
}

// RemainingBytes implements bkt.Lengther.
func (b *Bucket) RemainingBytes() (int64, bool, error) {
	return bkt.Remaining(b.inner)
}

// Position implements bkt.Positioner.
func (b *Bucket) Position() (int64, bool) {
	return bkt.Position(b.inner)
}

// CanReset implements bkt.Resetter.
func (b *Bucket) CanReset() bool {
	return bkt.CanReset(b.inner)
}

// Reset implements bkt.Resetter.
// Hashing starts over.
func (b *Bucket) Reset() error {
	if err := bkt.Reset(b.inner); err != nil {
		return err
	}
	b.h.Reset()
	b.n = 0
	b.sum = nil
	return nil
}

// Duplicate implements bkt.Duplicator.
// The duplicate is a plain duplicate of the inner bucket, without hashing.
func (b *Bucket) Duplicate(reset bool) (bkt.Bucket, error) {
	return bkt.Duplicate(b.inner, reset)
}

// Close implements bkt.Bucket.
func (b *Bucket) Close() error {
	if b.onResult != nil && b.sum == nil {
		b.finish()
	}
	return b.inner.Close()
}

// Name implements bkt.Namer.
func (b *Bucket) Name() string {
	return b.algo.String() + "(" + bkt.Name(b.inner) + ")"
}
