package bkt

import (
	"io"

	"github.com/pkg/errors"
)

var (
	_ Bucket     = &Stream{}
	_ Positioner = &Stream{}
)

// DefaultStreamBufferSize is the buffer size NewStream uses when given zero.
const DefaultStreamBufferSize = 16384

// Stream is a bucket over an io.Reader, such as a network connection.
// It cannot reset or duplicate.
type Stream struct {
	r          io.Reader
	buf        []byte
	start, end int
	pos        int64
	eof        bool
	closed     bool
}

// NewStream produces a bucket reading from r through a buffer of the given size.
// If r is an io.Closer, closing the bucket closes r.
func NewStream(r io.Reader, size int) *Stream {
	if size <= 0 {
		size = DefaultStreamBufferSize
	}
	return &Stream{r: r, buf: make([]byte, size)}
}

// fill performs one read into the empty buffer.
func (s *Stream) fill() error {
	if s.eof {
		return nil
	}
	n, err := s.r.Read(s.buf)
	s.start, s.end = 0, n
	if err == io.EOF {
		s.eof = true
		return nil
	}
	return err
}

// Read implements Bucket.
func (s *Stream) Read(max int) ([]byte, error) {
	if err := checkMax(s, max); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, errors.New("read from closed stream")
	}
	if s.start == s.end {
		if s.eof {
			return nil, io.EOF
		}
		if err := s.fill(); err != nil {
			return nil, err
		}
		if s.start == s.end && s.eof {
			return nil, io.EOF
		}
	}
	n := s.end - s.start
	if n > max {
		n = max
	}
	data := s.buf[s.start : s.start+n]
	s.start += n
	s.pos += int64(n)
	return data, nil
}

// Peek implements Bucket.
func (s *Stream) Peek(noPoll bool) ([]byte, error) {
	if s.start == s.end && !noPoll && !s.eof && !s.closed {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	if s.start == s.end && s.eof {
		return nil, io.EOF
	}
	return s.buf[s.start:s.end], nil
}

// Position implements Positioner.
func (s *Stream) Position() (int64, bool) {
	return s.pos, true
}

// Close implements Bucket.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = nil
	s.start, s.end = 0, 0
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Name implements Namer.
func (s *Stream) Name() string { return "stream" }
