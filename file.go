package bkt

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

var (
	_ Bucket      = &File{}
	_ ReadSkipper = &File{}
	_ Lengther    = &File{}
	_ Positioner  = &File{}
	_ Resetter    = &File{}
	_ Duplicator  = &File{}
)

const (
	// DefaultFileBufferSize is the read-ahead buffer size of a File bucket.
	DefaultFileBufferSize = 8192

	// DefaultFileChunkSize is the alignment of File bucket reads.
	DefaultFileChunkSize = 2048

	// When the buffer still holds more than this many bytes past the position
	// (or fewer are requested), a read is served without touching the disk.
	minCache = 16
)

// fileHandle is an open file shared by the File buckets duplicated from one another.
// The file is closed when the last of them releases it.
type fileHandle struct {
	f    *os.File
	refs int32

	lenOnce sync.Once
	length  int64
	lenErr  error
}

func (h *fileHandle) addRef() {
	atomic.AddInt32(&h.refs, 1)
}

func (h *fileHandle) release() error {
	if atomic.AddInt32(&h.refs, -1) == 0 {
		return errors.Wrapf(h.f.Close(), "closing %s", h.f.Name())
	}
	return nil
}

func (h *fileHandle) size() (int64, error) {
	h.lenOnce.Do(func() {
		info, err := h.f.Stat()
		if err != nil {
			h.lenErr = errors.Wrapf(err, "statting %s", h.f.Name())
			return
		}
		h.length = info.Size()
	})
	return h.length, h.lenErr
}

// readAt performs one positioned read.
// Positioned reads keep no shared cursor, so any number of File buckets may use h at once.
func (h *fileHandle) readAt(p []byte, off int64) (int, error) {
	n, err := h.f.ReadAt(p, off)
	if err == io.EOF {
		err = nil
	}
	return n, errors.Wrapf(err, "reading %s at %d", h.f.Name(), off)
}

// File is a buffered bucket over a file on disk.
//
// Reads go through a buffer filled by chunk-aligned positioned reads,
// so small reads near one another cost one disk access.
// Duplicates share the open file but have their own buffer and position.
type File struct {
	h         *fileHandle
	buf       []byte
	chunkMask int64

	bufStart int64 // file offset of buf[0]
	size     int   // valid bytes in buf
	pos      int   // read position within buf
	filePos  int64

	closed bool
}

type fileConfig struct {
	bufSize, chunkSize int
	random             bool
}

// FileOption configures OpenFile.
type FileOption func(*fileConfig)

// WithBufferSize sets the read-ahead buffer size.
func WithBufferSize(n int) FileOption {
	return func(c *fileConfig) { c.bufSize = n }
}

// WithChunkSize sets the read alignment. It must be a power of two.
func WithChunkSize(n int) FileOption {
	return func(c *fileConfig) { c.chunkSize = n }
}

// WithRandomAccess tells the operating system, where supported,
// that the file will be read at scattered offsets.
func WithRandomAccess() FileOption {
	return func(c *fileConfig) { c.random = true }
}

// OpenFile opens the file at path as a bucket.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	conf := fileConfig{
		bufSize:   DefaultFileBufferSize,
		chunkSize: DefaultFileChunkSize,
	}
	for _, opt := range opts {
		opt(&conf)
	}
	if conf.chunkSize < 1 || conf.chunkSize&(conf.chunkSize-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "chunk size %d is not a power of two", conf.chunkSize)
	}
	if conf.bufSize < conf.chunkSize {
		return nil, errors.Wrapf(ErrInvalidArgument, "buffer size %d is smaller than chunk size %d", conf.bufSize, conf.chunkSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	if conf.random {
		if err = adviseRandom(f); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "advising random access on %s", path)
		}
	}

	h := &fileHandle{f: f, refs: 1}
	return newFile(h, conf.bufSize, int64(conf.chunkSize-1)), nil
}

func newFile(h *fileHandle, bufSize int, chunkMask int64) *File {
	return &File{
		h:         h,
		buf:       make([]byte, bufSize),
		chunkMask: chunkMask,
	}
}

// Read implements Bucket.
func (f *File) Read(max int) ([]byte, error) {
	if err := checkMax(f, max); err != nil {
		return nil, err
	}
	if f.closed {
		return nil, errors.Wrap(os.ErrClosed, f.h.f.Name())
	}
	if f.pos >= f.size {
		if err := f.fill(max); err != nil {
			return nil, err
		}
		if f.pos >= f.size {
			f.pos = f.size
			return nil, io.EOF
		}
	}

	n := f.size - f.pos
	if n > max {
		n = max
	}
	data := f.buf[f.pos : f.pos+n]
	f.pos += n
	f.filePos += int64(n)
	return data, nil
}

// fill makes the buffer cover filePos, reading from disk only if it must.
func (f *File) fill(requested int) error {
	var (
		basePos = f.filePos &^ f.chunkMask
		want    = int64(requested) + (f.filePos - basePos)
		readLen = len(f.buf)
	)
	if want < int64(readLen) {
		readLen = int((want + f.chunkMask) &^ f.chunkMask)
		if readLen > len(f.buf) {
			readLen = len(f.buf)
		}
	}

	if f.bufStart != basePos || readLen > f.size {
		keep := int64(requested)
		if keep > minCache {
			keep = minCache
		}
		if f.filePos < f.bufStart || f.filePos >= f.bufStart+int64(f.size)-keep {
			n, err := f.h.readAt(f.buf[:readLen], basePos)
			if err != nil {
				return err
			}
			f.bufStart = basePos
			f.size = n
		}
	}

	f.pos = int(f.filePos - f.bufStart)
	if f.pos > f.size {
		f.pos = f.size
	}
	return nil
}

// Peek implements Bucket.
// It returns what is buffered and never reads from disk.
func (f *File) Peek(bool) ([]byte, error) {
	if f.closed {
		return nil, errors.Wrap(os.ErrClosed, f.h.f.Name())
	}
	return f.buf[f.pos:f.size], nil
}

// ReadSkip implements ReadSkipper.
// Skipping past the buffered bytes moves the position without reading.
func (f *File) ReadSkip(n int64) (int64, error) {
	if buffered := int64(f.size - f.pos); buffered > n {
		f.pos += int(n)
		f.filePos += n
		return n, nil
	}
	length, err := f.h.size()
	if err != nil {
		return 0, err
	}
	target := f.filePos + n
	if target > length {
		target = length
	}
	if target < f.filePos {
		target = f.filePos
	}
	skipped := target - f.filePos
	f.pos = f.size
	f.filePos = target
	return skipped, nil
}

// Length is the size of the underlying file.
func (f *File) Length() (int64, error) {
	return f.h.size()
}

// RemainingBytes implements Lengther.
func (f *File) RemainingBytes() (int64, bool, error) {
	length, err := f.h.size()
	if err != nil {
		return 0, false, err
	}
	if f.filePos > length {
		return 0, true, nil
	}
	return length - f.filePos, true, nil
}

// Position implements Positioner.
func (f *File) Position() (int64, bool) {
	return f.filePos, true
}

// CanReset implements Resetter.
func (f *File) CanReset() bool { return true }

// Reset implements Resetter.
// The buffer is kept and reused if it still covers the start of the file.
func (f *File) Reset() error {
	f.pos = f.size
	f.filePos = 0
	return nil
}

// Duplicate implements Duplicator.
func (f *File) Duplicate(reset bool) (Bucket, error) {
	return f.duplicate(reset)
}

// DuplicateFile is Duplicate with a concrete result type.
func (f *File) DuplicateFile(reset bool) (*File, error) {
	return f.duplicate(reset)
}

func (f *File) duplicate(reset bool) (*File, error) {
	if f.closed {
		return nil, errors.Wrap(os.ErrClosed, f.h.f.Name())
	}
	f.h.addRef()
	d := newFile(f.h, len(f.buf), f.chunkMask)
	if !reset {
		d.filePos = f.filePos
	}
	return d, nil
}

// Close implements Bucket.
// The file itself is closed when its last duplicate is closed.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.buf = nil
	f.pos, f.size = 0, 0
	return f.h.release()
}

// Name implements Namer.
func (f *File) Name() string {
	return "file " + f.h.f.Name()
}
