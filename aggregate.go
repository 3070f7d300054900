package bkt

import (
	"io"

	"github.com/pkg/errors"
)

var (
	_ Bucket      = &Aggregate{}
	_ ReadSkipper = &Aggregate{}
	_ Lengther    = &Aggregate{}
	_ Positioner  = &Aggregate{}
	_ Resetter    = &Aggregate{}
	_ Duplicator  = &Aggregate{}
	_ Appender    = &Aggregate{}
	_ Prepender   = &Aggregate{}
)

// Aggregate yields the contents of a sequence of buckets, one after another.
//
// It owns its buckets.
// By default each one is closed as soon as it is exhausted.
// A keep-open aggregate retains them instead, which makes Reset and Duplicate possible.
type Aggregate struct {
	buckets  []Bucket
	n        int // index of the current bucket
	keepOpen bool
	pos      int64
	closed   bool
}

// NewAggregate produces an aggregate that closes its buckets as it consumes them.
func NewAggregate(buckets ...Bucket) *Aggregate {
	return &Aggregate{buckets: buckets}
}

// NewKeepOpenAggregate produces an aggregate that retains consumed buckets
// until it is closed.
func NewKeepOpenAggregate(buckets ...Bucket) *Aggregate {
	return &Aggregate{buckets: buckets, keepOpen: true}
}

// Read implements Bucket.
func (a *Aggregate) Read(max int) ([]byte, error) {
	if err := checkMax(a, max); err != nil {
		return nil, err
	}
	for a.n < len(a.buckets) {
		data, err := a.buckets[a.n].Read(max)
		if err == io.EOF {
			if err = a.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		a.pos += int64(len(data))
		return data, nil
	}
	if !a.keepOpen {
		a.buckets = nil
		a.n = 0
	}
	return nil, io.EOF
}

// advance moves past the current bucket, closing it unless keep-open.
func (a *Aggregate) advance() error {
	if a.keepOpen {
		a.n++
		return nil
	}
	b := a.buckets[a.n]
	a.buckets[a.n] = nil
	a.n++
	return b.Close()
}

// Peek implements Bucket.
// It may look past an exhausted bucket into later ones,
// but it never closes or skips anything.
func (a *Aggregate) Peek(noPoll bool) ([]byte, error) {
	for i := a.n; i < len(a.buckets); i++ {
		data, err := a.buckets[i].Peek(noPoll)
		if err != io.EOF {
			return data, err
		}
	}
	return nil, io.EOF
}

// ReadSkip implements ReadSkipper.
func (a *Aggregate) ReadSkip(n int64) (int64, error) {
	if n < 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s: skip %d", a.Name(), n)
	}
	for n > 0 && a.n < len(a.buckets) {
		b := a.buckets[a.n]
		skipped, err := ReadSkip(b, n)
		if err != nil {
			return 0, err
		}
		if skipped > 0 {
			a.pos += skipped
			return skipped, nil
		}

		// Zero is either the end of b or nothing available yet.
		// A one-byte read tells them apart.
		data, err := b.Read(1)
		if err == io.EOF {
			if err = a.advance(); err != nil {
				return 0, err
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		a.pos += int64(len(data))
		return int64(len(data)), nil
	}
	return 0, nil
}

// RemainingBytes implements Lengther.
func (a *Aggregate) RemainingBytes() (int64, bool, error) {
	var total int64
	for _, b := range a.buckets[a.n:] {
		n, ok, err := Remaining(b)
		if err != nil || !ok {
			return 0, false, err
		}
		total += n
	}
	return total, true, nil
}

// Position implements Positioner.
func (a *Aggregate) Position() (int64, bool) {
	return a.pos, true
}

// CanReset implements Resetter.
func (a *Aggregate) CanReset() bool {
	if !a.keepOpen {
		return false
	}
	for _, b := range a.buckets {
		if !CanReset(b) {
			return false
		}
	}
	return true
}

// Reset implements Resetter.
// Buckets are reset from the last to the first.
func (a *Aggregate) Reset() error {
	if !a.keepOpen {
		return errors.Wrap(ErrResetUnsupported, "aggregate not in keep-open mode")
	}
	for i := len(a.buckets) - 1; i >= 0; i-- {
		if err := Reset(a.buckets[i]); err != nil {
			return err
		}
	}
	a.n = 0
	a.pos = 0
	return nil
}

// Duplicate implements Duplicator.
// Only keep-open aggregates can be duplicated.
func (a *Aggregate) Duplicate(reset bool) (Bucket, error) {
	if !a.keepOpen {
		return nil, errors.Wrap(ErrDuplicateUnsupported, "aggregate not in keep-open mode")
	}
	d := &Aggregate{keepOpen: true}
	for _, b := range a.buckets {
		db, err := Duplicate(b, reset)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.buckets = append(d.buckets, db)
	}
	if !reset {
		d.n = a.n
		d.pos = a.pos
	}
	return d, nil
}

// Append implements Appender.
// Consumed buckets are dropped (unless keep-open) rather than carried along.
func (a *Aggregate) Append(b Bucket) Bucket {
	if a.keepOpen {
		a.buckets = append(a.buckets, b)
		return a
	}
	if a.n > 0 {
		rest := make([]Bucket, 0, len(a.buckets)-a.n+1)
		rest = append(rest, a.buckets[a.n:]...)
		a.buckets = rest
		a.n = 0
	}
	a.buckets = append(a.buckets, b)
	return a
}

// Prepend implements Prepender.
// The new bucket is the next one read.
// Consumed buckets are never revived:
// without keep-open the new bucket takes the slot of the most recently consumed one,
// and with keep-open it is inserted at the cursor,
// so Reset replays it in that place.
func (a *Aggregate) Prepend(b Bucket) Bucket {
	if a.n > 0 && !a.keepOpen {
		a.n--
		a.buckets[a.n] = b
		return a
	}
	a.buckets = append(a.buckets, nil)
	copy(a.buckets[a.n+1:], a.buckets[a.n:])
	a.buckets[a.n] = b
	return a
}

// Close implements Bucket.
// Buckets are closed in order.
// The first error encountered is returned.
func (a *Aggregate) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var firstErr error
	for i, b := range a.buckets {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.buckets[i] = nil
	}
	a.buckets = nil
	a.n = 0
	return firstErr
}

// Name implements Namer.
func (a *Aggregate) Name() string { return "aggregate" }
