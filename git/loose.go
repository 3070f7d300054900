package git

import (
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/decompress"
)

var (
	_ ObjectBucket   = &LooseObject{}
	_ bkt.Lengther   = &LooseObject{}
	_ bkt.Positioner = &LooseObject{}
	_ bkt.Resetter   = &LooseObject{}
	_ bkt.Duplicator = &LooseObject{}
)

// Longest header accepted: the longest type name, a space, 20 digits and the NUL.
const maxHeaderLen = 32

// LooseObject reads a loose object file:
// a zlib stream of "<type> <size>\0" followed by the body.
// It yields the body.
type LooseObject struct {
	z      bkt.Bucket // the decompressed stream
	idType IDType

	typ    ObjectType
	size   int64
	parsed bool
	pos    int64
}

// NewLooseObject produces a bucket reading the loose object in inner,
// which holds the compressed file contents.
// The result owns inner.
func NewLooseObject(inner bkt.Bucket, idType IDType) *LooseObject {
	return &LooseObject{z: decompress.NewZlib(inner), idType: idType}
}

func (o *LooseObject) readHeader() error {
	if o.parsed {
		return nil
	}
	line, eol, err := bkt.ReadUntilEolFull(o.z, bkt.EolZero, nil)
	if err == io.EOF {
		return bkt.Formatf("loose object", "empty object")
	}
	if err != nil {
		return errors.Wrap(err, "reading loose object header")
	}
	if eol != bkt.EolZero {
		return bkt.Formatf("loose object", "header not NUL-terminated")
	}
	line = bkt.TrimEol(line, eol)
	if len(line) > maxHeaderLen {
		return bkt.Formatf("loose object", "header too long")
	}

	sp := bytes.IndexByte(line, ' ')
	if sp < 0 {
		return bkt.Formatf("loose object", "no size in header %q", line)
	}
	typ, err := ParseObjectType(string(line[:sp]))
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(string(line[sp+1:]), 10, 64)
	if err != nil || size < 0 {
		return bkt.Formatf("loose object", "bad size in header %q", line)
	}

	o.typ, o.size = typ, size
	o.parsed = true
	return nil
}

// ReadType implements ObjectBucket.
func (o *LooseObject) ReadType() (ObjectType, error) {
	if err := o.readHeader(); err != nil {
		return 0, err
	}
	return o.typ, nil
}

// Size is the body size from the header.
func (o *LooseObject) Size() (int64, error) {
	if err := o.readHeader(); err != nil {
		return 0, err
	}
	return o.size, nil
}

// Read implements bkt.Bucket.
func (o *LooseObject) Read(max int) ([]byte, error) {
	if err := o.readHeader(); err != nil {
		return nil, err
	}
	if o.pos == o.size {
		return nil, o.checkEnd()
	}
	if int64(max) > o.size-o.pos {
		max = int(o.size - o.pos)
	}
	data, err := o.z.Read(max)
	if err == io.EOF {
		return nil, bkt.Formatf("loose object", "body ends after %d of %d bytes", o.pos, o.size)
	}
	if err != nil {
		return nil, err
	}
	o.pos += int64(len(data))
	return data, nil
}

// checkEnd verifies that the body is followed by the end of the zlib stream.
func (o *LooseObject) checkEnd() error {
	data, err := o.z.Read(1)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return err
	}
	if len(data) > 0 {
		return bkt.Formatf("loose object", "data after %d-byte body", o.size)
	}
	return nil
}

// Peek implements bkt.Bucket.
// Before the header is read it reports nothing.
func (o *LooseObject) Peek(noPoll bool) ([]byte, error) {
	if !o.parsed {
		return nil, nil
	}
	if o.pos == o.size {
		return nil, io.EOF
	}
	data, err := o.z.Peek(noPoll)
	if err == io.EOF {
		return nil, nil
	}
	if int64(len(data)) > o.size-o.pos {
		data = data[:o.size-o.pos]
	}
	return data, err
}

// RemainingBytes implements bkt.Lengther.
func (o *LooseObject) RemainingBytes() (int64, bool, error) {
	if err := o.readHeader(); err != nil {
		return 0, false, err
	}
	return o.size - o.pos, true, nil
}

// Position implements bkt.Positioner.
func (o *LooseObject) Position() (int64, bool) {
	return o.pos, true
}

// CanReset implements bkt.Resetter.
func (o *LooseObject) CanReset() bool {
	return bkt.CanReset(o.z)
}

// Reset implements bkt.Resetter.
// The header is parsed again on the next read.
func (o *LooseObject) Reset() error {
	if err := bkt.Reset(o.z); err != nil {
		return err
	}
	o.parsed = false
	o.pos = 0
	return nil
}

// Duplicate implements bkt.Duplicator.
// Only a reset duplicate is possible.
func (o *LooseObject) Duplicate(reset bool) (bkt.Bucket, error) {
	if !reset {
		return nil, errors.Wrap(bkt.ErrDuplicateUnsupported, "loose object mid-stream")
	}
	z, err := bkt.Duplicate(o.z, true)
	if err != nil {
		return nil, err
	}
	return &LooseObject{z: z, idType: o.idType}, nil
}

// Close implements bkt.Bucket.
func (o *LooseObject) Close() error {
	return o.z.Close()
}

// Name implements bkt.Namer.
func (o *LooseObject) Name() string {
	return "loose(" + bkt.Name(o.z) + ")"
}
