package pack

import (
	"io"
	"math/bits"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
)

type deltaState int

const (
	deltaStart  deltaState = iota // before the size header
	deltaOp                       // expecting an instruction
	deltaInsert                   // copying literal bytes from the instructions
	deltaSeek                     // about to position the base for a copy
	deltaCopy                     // copying from the base
	deltaEOF
)

var (
	_ bkt.Bucket     = &Delta{}
	_ bkt.Lengther   = &Delta{}
	_ bkt.Positioner = &Delta{}
	_ bkt.Resetter   = &Delta{}
)

// Delta applies Git delta instructions to a base object.
type Delta struct {
	base bkt.Bucket
	src  bkt.Bucket

	state  deltaState
	length int64
	pos    int64

	copyOff  int64
	copySize int64
}

// NewDelta produces a bucket yielding the result of applying the delta in src to base.
// Copy instructions may go backwards in base,
// which then must be able to reset.
// The result owns both.
func NewDelta(base, src bkt.Bucket) *Delta {
	return &Delta{base: base, src: src}
}

func readVarint(b bkt.Bucket) (int64, error) {
	var v int64
	for shift := uint(0); ; shift += 7 {
		if shift > 63-7 {
			return 0, bkt.Formatf("delta", "size overflows")
		}
		c, err := bkt.ReadByte(b)
		if err == io.EOF {
			return 0, bkt.Formatf("delta", "truncated size header")
		}
		if err != nil {
			return 0, err
		}
		v |= int64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, nil
		}
	}
}

func (d *Delta) readHeader() error {
	if d.state != deltaStart {
		return nil
	}
	baseSize, err := readVarint(d.src)
	if err != nil {
		return err
	}
	n, ok, err := bkt.Remaining(d.base)
	if err != nil {
		return errors.Wrap(err, "getting delta base size")
	}
	if ok && n != baseSize {
		return bkt.Formatf("delta", "base has %d bytes, delta expects %d", n, baseSize)
	}
	if d.length, err = readVarint(d.src); err != nil {
		return err
	}
	if d.length == 0 {
		d.state = deltaEOF
	} else {
		d.state = deltaOp
	}
	return nil
}

func (d *Delta) nextOp() error {
	c, err := bkt.ReadByte(d.src)
	if err == io.EOF {
		return bkt.Formatf("delta", "instructions end at %d of %d bytes", d.pos, d.length)
	}
	if err != nil {
		return err
	}

	if c&0x80 == 0 {
		if c == 0 {
			return bkt.Formatf("delta", "reserved instruction 0")
		}
		d.copySize = int64(c)
		d.state = deltaInsert
	} else {
		args, err := bkt.ReadFull(d.src, bits.OnesCount8(c&0x7f))
		if err == io.ErrUnexpectedEOF {
			return bkt.Formatf("delta", "truncated copy instruction")
		}
		if err != nil {
			return err
		}
		var off, size uint32
		for bit := 0; bit < 4; bit++ {
			if c&(1<<bit) != 0 {
				off |= uint32(args[0]) << (8 * bit)
				args = args[1:]
			}
		}
		for bit := 0; bit < 3; bit++ {
			if c&(0x10<<bit) != 0 {
				size |= uint32(args[0]) << (8 * bit)
				args = args[1:]
			}
		}
		if size == 0 {
			size = 0x10000
		}
		d.copyOff, d.copySize = int64(off), int64(size)
		d.state = deltaSeek
	}

	if d.copySize > d.length-d.pos {
		return bkt.Formatf("delta", "instruction at %d overruns %d-byte result", d.pos, d.length)
	}
	return nil
}

// seekBase positions the base at copyOff.
func (d *Delta) seekBase() error {
	cp, ok := bkt.Position(d.base)
	if !ok {
		return errors.Wrapf(bkt.ErrInvalidArgument, "delta base %s does not report its position", bkt.Name(d.base))
	}
	if d.copyOff < cp {
		if err := bkt.Reset(d.base); err != nil {
			return errors.Wrap(err, "rewinding delta base")
		}
		cp = 0
	}
	if err := bkt.SkipFull(d.base, d.copyOff-cp); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return bkt.Formatf("delta", "copy from %d is past the end of the base", d.copyOff)
		}
		return err
	}
	d.state = deltaCopy
	return nil
}

// Read implements bkt.Bucket.
func (d *Delta) Read(max int) ([]byte, error) {
	if max < 1 {
		return nil, errors.Wrapf(bkt.ErrInvalidArgument, "delta: read size %d", max)
	}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	if d.state == deltaOp {
		if err := d.nextOp(); err != nil {
			return nil, err
		}
	}
	if d.state == deltaSeek {
		if err := d.seekBase(); err != nil {
			return nil, err
		}
	}

	var from bkt.Bucket
	switch d.state {
	case deltaEOF:
		return nil, d.finish()
	case deltaInsert:
		from = d.src
	case deltaCopy:
		from = d.base
	}

	if int64(max) > d.copySize {
		max = int(d.copySize)
	}
	data, err := from.Read(max)
	if err == io.EOF {
		if d.state == deltaInsert {
			return nil, bkt.Formatf("delta", "instructions end inside an insert")
		}
		return nil, bkt.Formatf("delta", "base ends inside a copy")
	}
	if err != nil {
		return nil, err
	}
	d.pos += int64(len(data))
	d.copySize -= int64(len(data))
	if d.copySize == 0 {
		if d.pos == d.length {
			d.state = deltaEOF
		} else {
			d.state = deltaOp
		}
	}
	return data, nil
}

// finish checks that the instructions end with the result.
func (d *Delta) finish() error {
	data, err := d.src.Read(1)
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return err
	}
	if len(data) > 0 {
		return bkt.Formatf("delta", "instructions continue past the %d-byte result", d.length)
	}
	return nil
}

// Peek implements bkt.Bucket.
func (d *Delta) Peek(noPoll bool) ([]byte, error) {
	var from bkt.Bucket
	switch d.state {
	case deltaInsert:
		from = d.src
	case deltaCopy:
		from = d.base
	default:
		return nil, nil
	}
	data, err := from.Peek(noPoll)
	if err == io.EOF {
		return nil, nil
	}
	if int64(len(data)) > d.copySize {
		data = data[:d.copySize]
	}
	return data, err
}

// RemainingBytes implements bkt.Lengther.
func (d *Delta) RemainingBytes() (int64, bool, error) {
	if err := d.readHeader(); err != nil {
		return 0, false, err
	}
	return d.length - d.pos, true, nil
}

// Position implements bkt.Positioner.
func (d *Delta) Position() (int64, bool) {
	return d.pos, true
}

// CanReset implements bkt.Resetter.
func (d *Delta) CanReset() bool {
	return bkt.CanReset(d.src) && bkt.CanReset(d.base)
}

// Reset implements bkt.Resetter.
func (d *Delta) Reset() error {
	if err := bkt.Reset(d.src); err != nil {
		return err
	}
	if err := bkt.Reset(d.base); err != nil {
		return err
	}
	d.state = deltaStart
	d.length, d.pos = 0, 0
	d.copyOff, d.copySize = 0, 0
	return nil
}

// Close implements bkt.Bucket.
func (d *Delta) Close() error {
	err := d.src.Close()
	if err2 := d.base.Close(); err == nil {
		err = err2
	}
	return err
}

// Name implements bkt.Namer.
func (d *Delta) Name() string {
	return "delta(" + bkt.Name(d.src) + ", " + bkt.Name(d.base) + ")"
}
