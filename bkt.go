// Package bkt implements buckets: pull-based, zero-copy byte streams that compose.
package bkt

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Bucket is a cursor over an ordered sequence of bytes.
//
// A bucket is not safe for concurrent use.
// Use Duplicate to get an independent cursor over the same data.
type Bucket interface {
	// Read returns at most max bytes that are available now.
	// It returns fewer whenever that is all that is available, so callers must loop.
	// An empty slice with a nil error means that nothing is available yet
	// but the bucket is not finished.
	// At the end of the bucket Read returns io.EOF, and keeps returning it.
	// The returned slice is valid until the next Read, ReadSkip, Reset or Close.
	// It is an error for max to be less than 1.
	Read(max int) ([]byte, error)

	// Peek returns bytes that are buffered without consuming them.
	// If noPoll is true, Peek does no I/O at all.
	// Otherwise it may perform a single fill of an empty buffer.
	// The result may be empty even when the bucket is not finished.
	Peek(noPoll bool) ([]byte, error)

	// Close releases the bucket's resources,
	// including those of any inner buckets it owns.
	// It is safe to call more than once.
	Close() error
}

// Optional capabilities.
// The package-level functions of the same names use these when present
// and fall back to default behavior otherwise.
type (
	// ReadSkipper can discard bytes more cheaply than by reading them.
	ReadSkipper interface {
		ReadSkip(n int64) (int64, error)
	}

	// Lengther knows how many bytes remain.
	// The boolean result is false when the count is unknown.
	Lengther interface {
		RemainingBytes() (int64, bool, error)
	}

	// Positioner tracks how many bytes have been consumed.
	Positioner interface {
		Position() (int64, bool)
	}

	// Resetter can rewind to its start.
	Resetter interface {
		CanReset() bool
		Reset() error
	}

	// Duplicator can produce an independent cursor over the same data.
	Duplicator interface {
		Duplicate(reset bool) (Bucket, error)
	}

	// Taker can narrow itself to a bounded window in place.
	Taker interface {
		Take(limit int64) Bucket
	}

	// Skipper can add a leading offset in place.
	Skipper interface {
		Skip(n int64) Bucket
	}

	// NoCloser can produce a view of itself whose Close does nothing.
	NoCloser interface {
		NoClose() Bucket
	}

	// Appender can append a bucket after its remaining contents.
	Appender interface {
		Append(Bucket) Bucket
	}

	// Prepender can insert a bucket before its remaining contents.
	Prepender interface {
		Prepend(Bucket) Bucket
	}

	// Namer describes a bucket in error messages.
	Namer interface {
		Name() string
	}
)

// MaxReadChunk is the largest single request made by the default ReadSkip.
const MaxReadChunk = 1 << 30

var (
	// ErrInvalidArgument is the error for misuse of the bucket API,
	// such as a non-positive read size.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResetUnsupported is the error for resetting a bucket that cannot reset.
	ErrResetUnsupported = errors.New("reset not supported")

	// ErrDuplicateUnsupported is the error for duplicating a bucket that cannot duplicate.
	ErrDuplicateUnsupported = errors.New("duplicate not supported")
)

// FormatError reports malformed data.
type FormatError struct {
	// Kind names the format, e.g. "pack index".
	Kind string
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Kind, e.Msg)
}

// Formatf produces a *FormatError.
func Formatf(kind, format string, args ...interface{}) error {
	return &FormatError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Name describes b for error messages.
func Name(b Bucket) string {
	if n, ok := b.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", b)
}

func checkMax(b Bucket, max int) error {
	if max < 1 {
		return errors.Wrapf(ErrInvalidArgument, "%s: read size %d", Name(b), max)
	}
	return nil
}

// ReadSkip discards up to n bytes of b and reports how many it discarded.
// The result is 0 at the end of b, when n is 0,
// or when b has nothing available yet.
func ReadSkip(b Bucket, n int64) (int64, error) {
	if n < 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s: skip %d", Name(b), n)
	}
	if n == 0 {
		return 0, nil
	}
	if s, ok := b.(ReadSkipper); ok {
		return s.ReadSkip(n)
	}
	return skipByReading(b, n)
}

// SkipFull discards exactly n bytes of b.
// If b ends first, the error is io.ErrUnexpectedEOF.
func SkipFull(b Bucket, n int64) error {
	for empty := 0; n > 0; {
		skipped, err := ReadSkip(b, n)
		if err != nil {
			return err
		}
		if skipped > 0 {
			n -= skipped
			empty = 0
			continue
		}
		// Zero means the end, unless b only had nothing buffered.
		if _, err = b.Peek(true); err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if empty++; empty == maxEmptyReads {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

func skipByReading(b Bucket, n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		want := n - skipped
		if want > MaxReadChunk {
			want = MaxReadChunk
		}
		data, err := b.Read(int(want))
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, err
		}
		if len(data) == 0 {
			break
		}
		skipped += int64(len(data))
	}
	return skipped, nil
}

// Remaining reports the number of bytes left in b, if known.
func Remaining(b Bucket) (int64, bool, error) {
	if l, ok := b.(Lengther); ok {
		return l.RemainingBytes()
	}
	return 0, false, nil
}

// Position reports how many bytes of b have been consumed, if b tracks that.
func Position(b Bucket) (int64, bool) {
	if p, ok := b.(Positioner); ok {
		return p.Position()
	}
	return 0, false
}

// CanReset tells whether b can be rewound.
func CanReset(b Bucket) bool {
	if r, ok := b.(Resetter); ok {
		return r.CanReset()
	}
	return false
}

// Reset rewinds b to its start.
func Reset(b Bucket) error {
	if r, ok := b.(Resetter); ok && r.CanReset() {
		return r.Reset()
	}
	return errors.Wrap(ErrResetUnsupported, Name(b))
}

// Duplicate produces an independent cursor over the data of b.
// If reset is true the new cursor starts at the beginning,
// otherwise at the current position of b.
// The caller owns the result and must close it.
func Duplicate(b Bucket, reset bool) (Bucket, error) {
	if d, ok := b.(Duplicator); ok {
		return d.Duplicate(reset)
	}
	return nil, errors.Wrap(ErrDuplicateUnsupported, Name(b))
}

// Append produces a bucket yielding the contents of b and then those of next.
func Append(b, next Bucket) Bucket {
	if a, ok := b.(Appender); ok {
		return a.Append(next)
	}
	return NewAggregate(b, next)
}

// Prepend produces a bucket yielding the contents of first and then those of b.
func Prepend(b, first Bucket) Bucket {
	if p, ok := b.(Prepender); ok {
		return p.Prepend(first)
	}
	return NewAggregate(first, b)
}

// Empty is a bucket with no contents.
var Empty Bucket = NewMemory(nil)

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clampInt(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
