// Package httpbkt reads HTTP/1.1 responses through buckets.
package httpbkt

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
)

// ProtocolError reports a violation of the HTTP wire format.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "http protocol error: " + e.Msg
}

func protocolErrorf(format string, args ...interface{}) error {
	return errors.WithStack(&ProtocolError{Msg: fmt.Sprintf(format, args...)})
}

type dechunkState int

const (
	stateStart dechunkState = iota // expecting a chunk-size line
	stateSize                      // in the middle of a chunk-size line
	stateChunk                     // in chunk data
	stateTerm                      // expecting the CRLF after chunk data
	stateFin                       // in the trailer section after the last chunk
	stateFin2                      // expecting the LF of a CRLF in the trailer section
	stateEOF
)

// Longest chunk-size line accepted, extensions included.
const maxSizeLine = 4096

var (
	_ bkt.Bucket     = &Dechunk{}
	_ bkt.Lengther   = &Dechunk{}
	_ bkt.Positioner = &Dechunk{}
)

// Dechunk decodes the HTTP chunked transfer coding.
type Dechunk struct {
	inner bkt.Bucket
	state dechunkState
	left  int64 // bytes left in the chunk, or of the CRLF after it

	sizeLine []byte
	sizeEol  bkt.Eol
	inTrail  bool // the current trailer line is not empty

	pos int64
}

// NewDechunk produces a bucket decoding the chunked body in inner.
// It stops after the final CRLF, leaving anything that follows in inner.
// The result owns inner.
func NewDechunk(inner bkt.Bucket) *Dechunk {
	return &Dechunk{inner: inner}
}

// advance runs the state machine until chunk data or the end is reached.
// Unless wait is true it stops as soon as inner has nothing buffered.
func (d *Dechunk) advance(wait bool) error {
	for d.state != stateChunk && d.state != stateEOF {
		if !wait {
			peek, err := d.inner.Peek(true)
			if err != nil && err != io.EOF {
				return err
			}
			if len(peek) == 0 {
				return nil
			}
		}

		var (
			progressed bool
			err        error
		)
		switch d.state {
		case stateStart, stateSize:
			progressed, err = d.readSize()
		case stateTerm:
			progressed, err = d.readTerm()
		case stateFin:
			progressed, err = d.readTrailer()
		case stateFin2:
			progressed, err = d.readTrailerLF()
		}
		if err != nil || !progressed {
			return err
		}
	}
	return nil
}

func (d *Dechunk) readSize() (bool, error) {
	accept := bkt.EolCRLF
	if d.state == stateSize && d.sizeEol == bkt.EolCRSplit {
		accept = bkt.EolLF
	}
	line, eol, err := bkt.ReadUntilEol(d.inner, accept)
	if err == io.EOF {
		return false, protocolErrorf("EOF in chunk size line")
	}
	if err != nil {
		return false, err
	}
	if len(line) == 0 {
		return false, nil
	}

	if d.state == stateStart && eol == bkt.EolCRLF {
		return true, d.parseSize(line)
	}

	d.sizeLine = append(d.sizeLine, line...)
	if len(d.sizeLine) > maxSizeLine {
		return false, protocolErrorf("chunk size line longer than %d bytes", maxSizeLine)
	}
	if eol == bkt.EolCRLF || (eol == bkt.EolLF && d.sizeEol == bkt.EolCRSplit) {
		line = d.sizeLine
		d.sizeLine, d.sizeEol = nil, bkt.EolNone
		return true, d.parseSize(line)
	}
	d.sizeEol = eol
	d.state = stateSize
	return true, nil
}

func (d *Dechunk) parseSize(line []byte) error {
	line = bytes.TrimSuffix(line, []byte("\r\n"))
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t")
	if len(line) == 0 {
		return bkt.Formatf("chunk size", "empty chunk size line")
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 {
		return bkt.Formatf("chunk size", "bad chunk size %q", line)
	}
	if size == 0 {
		d.state = stateFin
	} else {
		d.state = stateChunk
		d.left = size
	}
	return nil
}

func (d *Dechunk) readTerm() (bool, error) {
	data, err := d.inner.Read(int(d.left))
	if err == io.EOF {
		return false, protocolErrorf("EOF after chunk data")
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	want := "\r\n"[2-d.left:]
	if !bytes.HasPrefix([]byte(want), data) {
		return false, protocolErrorf("chunk data not followed by CRLF")
	}
	d.left -= int64(len(data))
	if d.left == 0 {
		d.state = stateStart
	}
	return true, nil
}

func (d *Dechunk) readTrailer() (bool, error) {
	line, eol, err := bkt.ReadUntilEol(d.inner, bkt.EolCRLF)
	if err == io.EOF {
		return false, protocolErrorf("EOF in chunked trailer")
	}
	if err != nil {
		return false, err
	}
	if len(line) == 0 {
		return false, nil
	}
	switch eol {
	case bkt.EolCRLF:
		if !d.inTrail && len(line) == 2 {
			d.state = stateEOF
		}
		d.inTrail = false
	case bkt.EolCRSplit:
		d.inTrail = d.inTrail || len(line) > 1
		d.state = stateFin2
	default:
		d.inTrail = true
	}
	return true, nil
}

func (d *Dechunk) readTrailerLF() (bool, error) {
	data, err := d.inner.Read(1)
	if err == io.EOF {
		return false, protocolErrorf("EOF in chunked trailer")
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if data[0] != '\n' {
		return false, protocolErrorf("bare CR in chunked trailer")
	}
	if d.inTrail {
		d.inTrail = false
		d.state = stateFin
	} else {
		d.state = stateEOF
	}
	return true, nil
}

// Read implements bkt.Bucket.
func (d *Dechunk) Read(max int) ([]byte, error) {
	if max < 1 {
		return nil, errors.Wrapf(bkt.ErrInvalidArgument, "dechunk: read size %d", max)
	}
	if d.state != stateChunk {
		if err := d.advance(true); err != nil {
			return nil, err
		}
		switch d.state {
		case stateEOF:
			return nil, io.EOF
		case stateChunk:
		default:
			return nil, nil
		}
	}

	if int64(max) > d.left {
		max = int(d.left)
	}
	data, err := d.inner.Read(max)
	if err == io.EOF {
		return nil, protocolErrorf("EOF with %d bytes left in chunk", d.left)
	}
	if err != nil {
		return nil, err
	}
	d.left -= int64(len(data))
	d.pos += int64(len(data))
	if d.left == 0 {
		d.state = stateTerm
		d.left = 2
	}
	return data, nil
}

// Peek implements bkt.Bucket.
// The result never extends past the current chunk.
func (d *Dechunk) Peek(noPoll bool) ([]byte, error) {
	if d.state != stateChunk {
		if err := d.advance(false); err != nil {
			return nil, err
		}
		switch d.state {
		case stateEOF:
			return nil, io.EOF
		case stateChunk:
		default:
			return nil, nil
		}
	}
	data, err := d.inner.Peek(noPoll)
	if err == io.EOF {
		return nil, nil
	}
	if int64(len(data)) > d.left {
		data = data[:d.left]
	}
	return data, err
}

// RemainingBytes implements bkt.Lengther.
// The length is known only at the end.
func (d *Dechunk) RemainingBytes() (int64, bool, error) {
	if d.state == stateEOF {
		return 0, true, nil
	}
	return 0, false, nil
}

// Position implements bkt.Positioner.
func (d *Dechunk) Position() (int64, bool) {
	return d.pos, true
}

// Close implements bkt.Bucket.
func (d *Dechunk) Close() error {
	return d.inner.Close()
}

// Name implements bkt.Namer.
func (d *Dechunk) Name() string {
	return "dechunk(" + bkt.Name(d.inner) + ")"
}
