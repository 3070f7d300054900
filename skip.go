package bkt

import (
	"io"

	"github.com/pkg/errors"
)

var (
	_ Bucket      = &skip{}
	_ ReadSkipper = &skip{}
	_ Lengther    = &skip{}
	_ Positioner  = &skip{}
	_ Resetter    = &skip{}
	_ Duplicator  = &skip{}
	_ Skipper     = &skip{}
)

// skip drops the first bytes of its inner bucket, lazily.
type skip struct {
	inner Bucket
	first int64 // bytes of inner to drop
	done  int64 // bytes of inner consumed so far
}

// Skip produces a bucket yielding b without its first n bytes.
// Nothing is read from b until the result is first read.
// The result owns b.
func Skip(b Bucket, n int64) Bucket {
	if s, ok := b.(Skipper); ok {
		return s.Skip(n)
	}
	return NewSkip(b, n)
}

// NewSkip is like Skip but always wraps b.
func NewSkip(b Bucket, n int64) Bucket {
	if n < 0 {
		n = 0
	}
	return &skip{inner: b, first: n}
}

// SeekOnReset produces a bucket yielding the rest of b
// whose Reset rewinds b and skips back to b's current position.
// This gives a bucket positioned partway through, say, a file
// a start of its own to reset to.
// The result owns b.
func SeekOnReset(b Bucket) (Bucket, error) {
	pos, ok := Position(b)
	if !ok {
		return nil, errors.Wrapf(ErrResetUnsupported, "%s does not track its position", Name(b))
	}
	return &skip{inner: b, first: pos, done: pos}, nil
}

// catchUp discards leading bytes not yet skipped.
func (s *skip) catchUp() (bool, error) {
	for s.done < s.first {
		n, err := ReadSkip(s.inner, s.first-s.done)
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		s.done += n
	}
	return true, nil
}

func (s *skip) Read(max int) ([]byte, error) {
	if err := checkMax(s, max); err != nil {
		return nil, err
	}
	ok, err := s.catchUp()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	data, err := s.inner.Read(max)
	s.done += int64(len(data))
	return data, err
}

func (s *skip) Peek(noPoll bool) ([]byte, error) {
	data, err := s.inner.Peek(noPoll)
	if err != nil || s.done >= s.first {
		return data, err
	}
	if need := s.first - s.done; int64(len(data)) > need {
		return data[need:], nil
	}
	return nil, nil
}

func (s *skip) ReadSkip(n int64) (int64, error) {
	ok, err := s.catchUp()
	if err != nil || !ok {
		return 0, err
	}
	skipped, err := ReadSkip(s.inner, n)
	s.done += skipped
	return skipped, err
}

func (s *skip) RemainingBytes() (int64, bool, error) {
	n, ok, err := Remaining(s.inner)
	if err != nil || !ok {
		return 0, false, err
	}
	if s.done < s.first {
		n -= s.first - s.done
		if n < 0 {
			n = 0
		}
	}
	return n, true, nil
}

func (s *skip) Position() (int64, bool) {
	if s.done <= s.first {
		return 0, true
	}
	return s.done - s.first, true
}

func (s *skip) CanReset() bool {
	return CanReset(s.inner)
}

func (s *skip) Reset() error {
	if err := Reset(s.inner); err != nil {
		return errors.Wrap(err, "skip")
	}
	s.done = 0
	return nil
}

func (s *skip) Duplicate(reset bool) (Bucket, error) {
	if reset {
		d, err := Duplicate(s.inner, true)
		if err != nil {
			return nil, err
		}
		return &skip{inner: d, first: s.first}, nil
	}
	d, err := Duplicate(s.inner, false)
	if err != nil {
		return nil, err
	}
	return &skip{inner: d, first: s.first, done: s.done}, nil
}

// Skip grows the offset in place when nothing past it has been read yet.
func (s *skip) Skip(n int64) Bucket {
	if s.done <= s.first {
		s.first += n
		return s
	}
	return NewSkip(s, n)
}

func (s *skip) Close() error {
	return s.inner.Close()
}

func (s *skip) Name() string { return "skip(" + Name(s.inner) + ")" }
