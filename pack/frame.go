package pack

import (
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/decompress"
	"github.com/bobg/bkt/git"
)

// Object kinds in pack frame headers.
// Kinds 1 through 4 are the git.ObjectType values.
const (
	kindOfsDelta = 6
	kindRefDelta = 7
)

// Resolver obtains the base object of a ref-delta.
type Resolver func(git.ID) (git.ObjectBucket, error)

// ErrMissingBase is the error for a delta whose base cannot be found.
var ErrMissingBase = errors.New("delta base not found")

// maxDeltaDepth bounds the delta chain behind a frame.
// A corrupt pack can make a chain cyclic.
// Git never writes chains deeper than 4095.
var maxDeltaDepth = 4095

var (
	_ git.ObjectBucket = &Frame{}
	_ bkt.Lengther     = &Frame{}
	_ bkt.Positioner   = &Frame{}
	_ bkt.Resetter     = &Frame{}
	_ bkt.Duplicator   = &Frame{}
)

// Frame reads one object from a pack:
// the frame header, then the inflated body,
// with deltas applied to their bases.
type Frame struct {
	inner   bkt.Bucket
	idType  git.IDType
	resolve Resolver

	parsed bool
	offset int64
	kind   int
	size   int64 // inflated size from the frame header
	typ    git.ObjectType
	depth  int
	chain  int // deltas that have this frame as their base, directly or not

	body bkt.Bucket
	pos  int64
}

// NewFrame produces a bucket reading the pack frame at the start of inner.
// Delta frames need inner to duplicate and report its position,
// as a pack file bucket does.
// The result owns inner.
func NewFrame(inner bkt.Bucket, idType git.IDType, resolver Resolver) *Frame {
	return &Frame{inner: inner, idType: idType, resolve: resolver}
}

func (f *Frame) readByte() (byte, error) {
	c, err := bkt.ReadByte(f.inner)
	if err == io.EOF {
		return 0, errors.Wrap(io.ErrUnexpectedEOF, "reading pack frame header")
	}
	return c, err
}

func (f *Frame) readInfo() error {
	if f.parsed {
		return nil
	}
	f.offset, _ = bkt.Position(f.inner)

	c, err := f.readByte()
	if err != nil {
		return err
	}
	kind := int(c>>4) & 7
	size := int64(c & 0x0f)
	for shift := uint(4); c&0x80 != 0; shift += 7 {
		if shift > 63-7 {
			return bkt.Formatf("pack frame", "size at %d overflows", f.offset)
		}
		if c, err = f.readByte(); err != nil {
			return err
		}
		size |= int64(c&0x7f) << shift
	}

	if (kind == kindOfsDelta || kind == kindRefDelta) && f.chain >= maxDeltaDepth {
		return bkt.Formatf("pack frame", "delta chain too deep")
	}

	var base git.ObjectBucket
	switch kind {
	case int(git.Commit), int(git.Tree), int(git.Blob), int(git.Tag):
		f.typ = git.ObjectType(kind)

	case kindOfsDelta:
		if base, err = f.ofsBase(); err != nil {
			return err
		}

	case kindRefDelta:
		if base, err = f.refBase(); err != nil {
			return err
		}

	default:
		return bkt.Formatf("pack frame", "object at %d has invalid type %d", f.offset, kind)
	}

	raw, err := bkt.SeekOnReset(bkt.NoClose(f.inner))
	if err != nil {
		if base != nil {
			base.Close()
		}
		return err
	}
	f.body = decompress.NewZlib(raw)
	f.kind, f.size = kind, size

	if base != nil {
		if bf, ok := base.(*Frame); ok {
			bf.chain = f.chain + 1
		}
		typ, err := base.ReadType()
		if err != nil {
			base.Close()
			return errors.Wrapf(err, "reading delta base of object at %d", f.offset)
		}
		f.typ = typ
		if bf, ok := base.(*Frame); ok {
			f.depth = bf.depth + 1
		} else {
			f.depth = 1
		}
		f.body = NewDelta(base, f.body)
	}

	f.parsed = true
	return nil
}

// ofsBase opens the base of an ofs-delta,
// which lies a negative offset back in the same pack.
func (f *Frame) ofsBase() (git.ObjectBucket, error) {
	c, err := f.readByte()
	if err != nil {
		return nil, err
	}
	dist := int64(c & 0x7f)
	for c&0x80 != 0 {
		if dist >= 1<<(63-7) {
			return nil, bkt.Formatf("pack frame", "delta base offset at %d overflows", f.offset)
		}
		if c, err = f.readByte(); err != nil {
			return nil, err
		}
		dist = ((dist + 1) << 7) | int64(c&0x7f)
	}
	if dist == 0 || dist > f.offset {
		return nil, bkt.Formatf("pack frame", "delta base %d bytes before object at %d", dist, f.offset)
	}

	d, err := bkt.Duplicate(f.inner, true)
	if err != nil {
		return nil, errors.Wrap(err, "duplicating pack for delta base")
	}
	if err = bkt.SkipFull(d, f.offset-dist); err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "seeking to delta base at %d", f.offset-dist)
	}
	return NewFrame(d, f.idType, f.resolve), nil
}

// refBase obtains the base of a ref-delta from the resolver.
func (f *Frame) refBase() (git.ObjectBucket, error) {
	raw, err := bkt.ReadFull(f.inner, f.idType.Size())
	if err != nil {
		return nil, errors.Wrap(err, "reading delta base id")
	}
	id, err := git.IDFromBytes(f.idType, raw)
	if err != nil {
		return nil, err
	}
	if f.resolve == nil {
		return nil, errors.Wrapf(ErrMissingBase, "no resolver for %s", id)
	}
	base, err := f.resolve(id)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving delta base %s", id)
	}
	return base, nil
}

// ReadType implements git.ObjectBucket.
// For a delta it is the type of the base.
func (f *Frame) ReadType() (git.ObjectType, error) {
	if err := f.readInfo(); err != nil {
		return 0, err
	}
	return f.typ, nil
}

// Size is the size of the object.
func (f *Frame) Size() (int64, error) {
	n, _, err := f.RemainingBytes()
	return f.pos + n, err
}

// Depth is the length of the object's delta chain, 0 for a whole object.
func (f *Frame) Depth() (int, error) {
	if err := f.readInfo(); err != nil {
		return 0, err
	}
	return f.depth, nil
}

// Offset is the frame's position in the pack.
func (f *Frame) Offset() (int64, error) {
	if err := f.readInfo(); err != nil {
		return 0, err
	}
	return f.offset, nil
}

func (f *Frame) isDelta() bool {
	return f.kind == kindOfsDelta || f.kind == kindRefDelta
}

// Read implements bkt.Bucket.
func (f *Frame) Read(max int) ([]byte, error) {
	if err := f.readInfo(); err != nil {
		return nil, err
	}
	data, err := f.body.Read(max)
	if err == io.EOF {
		if !f.isDelta() && f.pos != f.size {
			return nil, bkt.Formatf("pack frame", "object at %d inflates to %d bytes, header says %d", f.offset, f.pos, f.size)
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	f.pos += int64(len(data))
	if !f.isDelta() && f.pos > f.size {
		return nil, bkt.Formatf("pack frame", "object at %d inflates past %d bytes", f.offset, f.size)
	}
	return data, nil
}

// Peek implements bkt.Bucket.
func (f *Frame) Peek(noPoll bool) ([]byte, error) {
	if !f.parsed {
		return nil, nil
	}
	return f.body.Peek(noPoll)
}

// RemainingBytes implements bkt.Lengther.
func (f *Frame) RemainingBytes() (int64, bool, error) {
	if err := f.readInfo(); err != nil {
		return 0, false, err
	}
	if f.isDelta() {
		return bkt.Remaining(f.body)
	}
	return f.size - f.pos, true, nil
}

// Position implements bkt.Positioner.
func (f *Frame) Position() (int64, bool) {
	return f.pos, true
}

// CanReset implements bkt.Resetter.
func (f *Frame) CanReset() bool {
	if !f.parsed {
		return true
	}
	return bkt.CanReset(f.body)
}

// Reset implements bkt.Resetter.
func (f *Frame) Reset() error {
	if !f.parsed {
		return nil
	}
	if err := bkt.Reset(f.body); err != nil {
		return err
	}
	f.pos = 0
	return nil
}

// Duplicate implements bkt.Duplicator.
// Only a reset duplicate is possible.
func (f *Frame) Duplicate(reset bool) (bkt.Bucket, error) {
	if !reset {
		return nil, errors.Wrap(bkt.ErrDuplicateUnsupported, "pack frame mid-stream")
	}
	start := f.offset
	if !f.parsed {
		start, _ = bkt.Position(f.inner)
	}
	d, err := bkt.Duplicate(f.inner, true)
	if err != nil {
		return nil, err
	}
	if err = bkt.SkipFull(d, start); err != nil {
		d.Close()
		return nil, err
	}
	return NewFrame(d, f.idType, f.resolve), nil
}

// Close implements bkt.Bucket.
func (f *Frame) Close() error {
	var err error
	if f.body != nil {
		err = f.body.Close()
		f.body = nil
		f.parsed = false
	}
	if err2 := f.inner.Close(); err == nil {
		err = err2
	}
	return err
}

// Name implements bkt.Namer.
func (f *Frame) Name() string {
	return "frame(" + bkt.Name(f.inner) + ")"
}
