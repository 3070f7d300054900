package bkt

import (
	"io"

	"github.com/pkg/errors"
)

// Most bytes copied from a peek when a poll cannot combine windows without copying.
const maxPollCopy = 256

// Polled is a look-ahead at a bucket produced by Poll.
//
// Getting enough bytes to look at may have required consuming some of them.
// Polled remembers how many, and its Read and Consume account for them.
type Polled struct {
	// Data is the look-ahead.
	Data []byte

	b           Bucket
	alreadyRead int
	eof         bool
}

// Poll looks ahead at least min bytes in b if it can do so with one read.
// It returns fewer when that is all b has right now.
// Unlike Peek it may consume bytes,
// which the caller must then account for through the result's Read or Consume.
func Poll(b Bucket, min int) (*Polled, error) {
	if err := checkMax(b, min); err != nil {
		return nil, err
	}

	data, err := b.Peek(false)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if err == nil && len(data) >= min {
		return &Polled{Data: data, b: b}, nil
	}

	data, err = b.Read(min)
	if err == io.EOF {
		return &Polled{b: b, eof: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &Polled{b: b}, nil
	}

	p := &Polled{Data: data, b: b, alreadyRead: len(data)}

	peek, err := b.Peek(true)
	if err != nil || len(peek) == 0 {
		return p, nil
	}
	if joined, ok := adjacent(data, peek); ok {
		p.Data = joined
		return p, nil
	}
	if len(peek) > maxPollCopy {
		peek = peek[:maxPollCopy]
	}
	buf := make([]byte, 0, len(data)+len(peek))
	buf = append(buf, data...)
	p.Data = append(buf, peek...)
	return p, nil
}

// adjacent joins a and b without copying when b starts where a ends
// within the same backing array.
func adjacent(a, b []byte) ([]byte, bool) {
	n := len(a)
	if n == 0 || len(b) == 0 || cap(a)-n < len(b) {
		return nil, false
	}
	ext := a[:n+len(b)]
	if &ext[n] != &b[0] {
		return nil, false
	}
	return ext, true
}

// AtEOF tells whether the poll found the end of the bucket.
func (p *Polled) AtEOF() bool { return p.eof }

// AlreadyRead is the number of bytes of Data already consumed from the bucket.
func (p *Polled) AlreadyRead() int { return p.alreadyRead }

// Read consumes n bytes of the polled data (and beyond it, if n exceeds it)
// and returns them.
// n must be at least AlreadyRead.
// Data is invalid afterwards.
func (p *Polled) Read(n int) ([]byte, error) {
	defer func() { p.Data = nil }()

	if p.alreadyRead == 0 {
		return p.b.Read(n)
	}
	if n < p.alreadyRead {
		return nil, errors.Wrapf(ErrInvalidArgument, "reading %d polled bytes, %d already consumed", n, p.alreadyRead)
	}

	already := p.alreadyRead
	p.alreadyRead = 0

	if n == already {
		return p.Data[:n], nil
	}

	out := make([]byte, already, n)
	copy(out, p.Data[:already])
	data, err := p.b.Read(n - already)
	if err == io.EOF {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return append(out, data...), nil
}

// Consume discards n bytes of the polled data,
// reading past the already-consumed part as necessary.
// Data is invalid afterwards.
func (p *Polled) Consume(n int) error {
	defer func() { p.Data = nil }()

	if n < p.alreadyRead {
		return errors.Wrapf(ErrInvalidArgument, "consuming %d polled bytes, %d already consumed", n, p.alreadyRead)
	}
	n -= p.alreadyRead
	p.alreadyRead = 0
	for n > 0 {
		skipped, err := ReadSkip(p.b, int64(n))
		if err != nil {
			return err
		}
		if skipped == 0 {
			return io.ErrUnexpectedEOF
		}
		n -= int(skipped)
	}
	return nil
}
