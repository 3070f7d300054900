package bkt

import "io"

var (
	_ Bucket      = &Memory{}
	_ ReadSkipper = &Memory{}
	_ Lengther    = &Memory{}
	_ Resetter    = &Memory{}
	_ Duplicator  = &Memory{}
	_ NoCloser    = &Memory{}
)

// Memory is a bucket over an in-memory byte slice.
// The slice must not be modified while the bucket is in use.
type Memory struct {
	data []byte
	off  int
}

// NewMemory produces a bucket yielding data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

// Read implements Bucket.
func (m *Memory) Read(max int) ([]byte, error) {
	if err := checkMax(m, max); err != nil {
		return nil, err
	}
	n := len(m.data) - m.off
	if n == 0 {
		return nil, io.EOF
	}
	if n > max {
		n = max
	}
	data := m.data[m.off : m.off+n]
	m.off += n
	return data, nil
}

// Peek implements Bucket.
// At the end of the data it returns an empty window, not io.EOF.
func (m *Memory) Peek(bool) ([]byte, error) {
	return m.data[m.off:], nil
}

// ReadSkip implements ReadSkipper.
func (m *Memory) ReadSkip(n int64) (int64, error) {
	left := int64(len(m.data) - m.off)
	if n > left {
		n = left
	}
	m.off += int(n)
	return n, nil
}

// RemainingBytes implements Lengther.
func (m *Memory) RemainingBytes() (int64, bool, error) {
	return int64(len(m.data) - m.off), true, nil
}

// Position implements Positioner.
func (m *Memory) Position() (int64, bool) {
	return int64(m.off), true
}

// CanReset implements Resetter.
func (m *Memory) CanReset() bool { return true }

// Reset implements Resetter.
func (m *Memory) Reset() error {
	m.off = 0
	return nil
}

// Duplicate implements Duplicator.
func (m *Memory) Duplicate(reset bool) (Bucket, error) {
	d := &Memory{data: m.data}
	if !reset {
		d.off = m.off
	}
	return d, nil
}

// NoClose implements NoCloser.
// Closing a Memory bucket does nothing, so it is its own no-close view.
func (m *Memory) NoClose() Bucket { return m }

// Close implements Bucket.
func (m *Memory) Close() error { return nil }

// Name implements Namer.
func (m *Memory) Name() string { return "memory" }
