package bkt

import (
	"io"

	"github.com/pkg/errors"
)

var (
	_ Bucket      = &take{}
	_ ReadSkipper = &take{}
	_ Lengther    = &take{}
	_ Positioner  = &take{}
	_ Resetter    = &take{}
	_ Duplicator  = &take{}
	_ Taker       = &take{}
)

// take yields at most limit bytes of its inner bucket.
type take struct {
	inner Bucket
	limit int64
	pos   int64
}

// Take produces a bucket yielding at most limit bytes of b.
// The result owns b.
// If b can narrow itself in place, it does so instead of being wrapped.
func Take(b Bucket, limit int64) Bucket {
	if t, ok := b.(Taker); ok {
		return t.Take(limit)
	}
	return NewTake(b, limit)
}

// NewTake is like Take but always wraps b.
func NewTake(b Bucket, limit int64) Bucket {
	if limit < 0 {
		limit = 0
	}
	return &take{inner: b, limit: limit}
}

func (t *take) left() int64 { return t.limit - t.pos }

func (t *take) Read(max int) ([]byte, error) {
	if err := checkMax(t, max); err != nil {
		return nil, err
	}
	left := t.left()
	if left <= 0 {
		return nil, io.EOF
	}
	if int64(max) > left {
		max = int(left)
	}
	data, err := t.inner.Read(max)
	t.pos += int64(len(data))
	return data, err
}

func (t *take) Peek(noPoll bool) ([]byte, error) {
	left := t.left()
	if left <= 0 {
		return nil, io.EOF
	}
	data, err := t.inner.Peek(noPoll)
	if int64(len(data)) > left {
		data = data[:left]
	}
	return data, err
}

func (t *take) ReadSkip(n int64) (int64, error) {
	n = minInt64(n, t.left())
	if n <= 0 {
		return 0, nil
	}
	skipped, err := ReadSkip(t.inner, n)
	t.pos += skipped
	return skipped, err
}

func (t *take) RemainingBytes() (int64, bool, error) {
	n, ok, err := Remaining(t.inner)
	if err != nil || !ok {
		return 0, false, err
	}
	return minInt64(n, t.left()), true, nil
}

func (t *take) Position() (int64, bool) {
	return t.pos, true
}

func (t *take) CanReset() bool {
	return CanReset(t.inner)
}

func (t *take) Reset() error {
	if err := Reset(t.inner); err != nil {
		return errors.Wrap(err, "take")
	}
	t.pos = 0
	return nil
}

func (t *take) Duplicate(reset bool) (Bucket, error) {
	d, err := Duplicate(t.inner, reset)
	if err != nil {
		return nil, err
	}
	nt := &take{inner: d, limit: t.limit}
	if !reset {
		nt.pos = t.pos
	}
	return nt, nil
}

// Take narrows the window so that at most limit more bytes are yielded.
func (t *take) Take(limit int64) Bucket {
	if end := t.pos + limit; end < t.limit {
		t.limit = end
	}
	return t
}

func (t *take) Close() error {
	return t.inner.Close()
}

func (t *take) Name() string { return "take(" + Name(t.inner) + ")" }
