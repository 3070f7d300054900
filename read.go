package bkt

import (
	"io"

	"github.com/pkg/errors"
)

// ReadAll reads b to its end.
func ReadAll(b Bucket) ([]byte, error) {
	var out []byte
	if n, ok, err := Remaining(b); err == nil && ok {
		out = make([]byte, 0, clampInt(n))
	}
	for {
		data, err := b.Read(MaxReadChunk)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, data...)
	}
}

// ReadFull reads exactly n bytes from b.
// If b ends first, the error is io.ErrUnexpectedEOF.
// When a single read yields all n bytes the result aliases the bucket's window.
func ReadFull(b Bucket, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	data, err := b.Read(n)
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	if len(data) == n {
		return data, nil
	}
	out := make([]byte, 0, n)
	out = append(out, data...)
	for len(out) < n {
		data, err = b.Read(n - len(out))
		if err == io.EOF {
			return out, io.ErrUnexpectedEOF
		}
		if err != nil {
			return out, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// ReadByte reads a single byte from b.
func ReadByte(b Bucket) (byte, error) {
	r := bucketReader{b: b}
	return r.ReadByte()
}

// Copy writes the contents of b to w.
func Copy(w io.Writer, b Bucket) (int64, error) {
	var total int64
	for {
		data, err := b.Read(MaxReadChunk)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, errors.Wrap(err, "writing")
		}
	}
}

// Drain reads b to its end, discarding the data,
// and returns the number of bytes read.
func Drain(b Bucket) (int64, error) {
	return Copy(io.Discard, b)
}

// Reader adapts a bucket to io.Reader.
// It also implements io.ByteReader,
// so consumers such as flate decoders take exactly the bytes they need
// and leave the rest in the bucket.
type Reader interface {
	io.Reader
	io.ByteReader
	io.WriterTo
}

// AsReader adapts b to the io.Reader family.
// Closing b remains the caller's responsibility.
func AsReader(b Bucket) Reader {
	return &bucketReader{b: b}
}

type bucketReader struct {
	b Bucket
}

// Number of consecutive empty windows tolerated before giving up.
const maxEmptyReads = 100

func (r *bucketReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for i := 0; i < maxEmptyReads; i++ {
		data, err := r.b.Read(len(p))
		if err != nil {
			return 0, err
		}
		if len(data) > 0 {
			return copy(p, data), nil
		}
	}
	return 0, io.ErrNoProgress
}

func (r *bucketReader) ReadByte() (byte, error) {
	for i := 0; i < maxEmptyReads; i++ {
		data, err := r.b.Read(1)
		if err != nil {
			return 0, err
		}
		if len(data) > 0 {
			return data[0], nil
		}
	}
	return 0, io.ErrNoProgress
}

func (r *bucketReader) WriteTo(w io.Writer) (int64, error) {
	return Copy(w, r.b)
}
