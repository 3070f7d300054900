package bkt

import (
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Eol is a set of line delimiters,
// or the delimiter that ended a line.
type Eol uint32

const (
	// EolNone means no delimiter: the line is incomplete or ended at EOF.
	EolNone Eol = 0

	EolLF   Eol = 1 << 0
	EolCR   Eol = 1 << 1
	EolCRLF Eol = 1 << 2
	EolZero Eol = 1 << 3

	// EolAny accepts LF, CR and CRLF.
	EolAny = EolLF | EolCR | EolCRLF

	// EolCRSplit is only ever a result.
	// The line ended with a CR that may be the first half of a CRLF
	// whose LF has not arrived yet.
	EolCRSplit Eol = 1 << 20

	eolMask Eol = 0xff
)

func (e Eol) String() string {
	switch e {
	case EolNone:
		return "None"
	case EolLF:
		return "LF"
	case EolCR:
		return "CR"
	case EolCRLF:
		return "CRLF"
	case EolZero:
		return "Zero"
	case EolCRSplit:
		return "CRSplit"
	}
	var parts []string
	for _, f := range []Eol{EolLF, EolCR, EolCRLF, EolZero} {
		if e&f != 0 {
			parts = append(parts, f.String())
		}
	}
	return strings.Join(parts, "|")
}

// Len is the number of bytes the delimiter occupies at the end of a line.
func (e Eol) Len() int {
	switch e {
	case EolNone:
		return 0
	case EolCRLF:
		return 2
	default:
		return 1
	}
}

// TrimEol removes the delimiter eol from the end of line.
func TrimEol(line []byte, eol Eol) []byte {
	n := eol.Len()
	if n > len(line) {
		n = len(line)
	}
	return line[:len(line)-n]
}

// EolReader is a bucket with its own implementation of ReadUntilEol.
type EolReader interface {
	ReadUntilEol(accept Eol) ([]byte, Eol, error)
}

// ReadUntilEol reads from b up to and including the first delimiter in accept.
//
// It reads no further than what b yields in one read,
// so the result may be a fragment of a line, reported with EolNone.
// A CR at the very end of a fragment, when CRLF is acceptable,
// is reported as EolCRSplit:
// the caller learns from the next fragment whether it was a CRLF.
// See ReadUntilEolFull for a variant that returns whole lines.
func ReadUntilEol(b Bucket, accept Eol) ([]byte, Eol, error) {
	if accept&^eolMask != 0 || accept == EolNone {
		return nil, EolNone, errors.Wrapf(ErrInvalidArgument, "eol set %#x", uint32(accept))
	}
	if r, ok := b.(EolReader); ok {
		return r.ReadUntilEol(accept)
	}

	p, err := Poll(b, 1)
	if err != nil {
		return nil, EolNone, err
	}
	if p.AtEOF() {
		return nil, EolNone, io.EOF
	}
	if len(p.Data) == 0 {
		return nil, EolNone, nil
	}

	requested, singleCR := eolReadLength(accept, math.MaxInt32, p.Data)
	line, err := p.Read(requested)
	if err != nil {
		return nil, EolNone, err
	}
	return line, eolFound(accept, requested, singleCR, line), nil
}

// eolReadLength computes how many bytes of buf to read to end at the first delimiter.
// singleCR reports that the line ends in a CR known not to start a CRLF.
func eolReadLength(accept Eol, requested int, buf []byte) (n int, singleCR bool) {
	cr, lf := -1, -1
	if accept&(EolCR|EolCRLF) != 0 {
		cr = bytes.IndexByte(buf, '\r')
	}
	if accept&EolLF != 0 {
		lf = bytes.IndexByte(buf, '\n')
	}
	if accept&EolZero != 0 {
		lf = firstOf(lf, bytes.IndexByte(buf, 0))
	}

	// With only CRLF acceptable, a CR followed by something else is not a delimiter.
	if accept&(EolCR|EolCRLF) == EolCRLF {
		for cr >= 0 && (lf < 0 || cr < lf) && cr+1 < len(buf) && buf[cr+1] != '\n' {
			next := bytes.IndexByte(buf[cr+1:], '\r')
			if next < 0 {
				cr = -1
			} else {
				cr += next + 1
			}
		}
	}

	at := firstOf(cr, lf)
	switch {
	case at >= 0 && buf[at] == '\r' && accept&EolCRLF != 0 && at+1 < len(buf):
		if buf[at+1] == '\n' {
			return at + 2, false
		}
		return at + 1, true
	case at >= 0:
		return at + 1, false
	case accept == EolCRLF:
		return minInt(len(buf)+2, requested), false
	default:
		return minInt(len(buf)+1, requested), false
	}
}

// eolFound determines which delimiter, if any, ends line.
func eolFound(accept Eol, requested int, singleCR bool, line []byte) Eol {
	n := len(line)
	if n == 0 {
		return EolNone
	}
	last := line[n-1]
	switch {
	case accept&EolCRLF != 0 && n >= 2 && last == '\n' && line[n-2] == '\r':
		return EolCRLF
	case accept&EolLF != 0 && last == '\n':
		return EolLF
	case accept&(EolCR|EolCRLF) == EolCR && last == '\r':
		return EolCR
	case accept&EolCRLF != 0 && last == '\r':
		if singleCR && requested == n {
			return EolCR
		}
		return EolCRSplit
	case accept&EolZero != 0 && last == 0:
		return EolZero
	}
	return EolNone
}

// EolState carries a byte read ahead by ReadUntilEolFull from one call to the next.
// Use one EolState per logical cursor.
type EolState struct {
	kept    byte
	hasKept bool
}

// Pending tells whether s holds a byte not yet returned.
func (s *EolState) Pending() bool {
	return s != nil && s.hasKept
}

// ReadUntilEolFull reads a whole line from b,
// ending with a delimiter in accept or at the end of b.
// A line is never split across results.
//
// Resolving whether a trailing CR starts a CRLF can mean reading one byte too many.
// That byte is kept in state and starts the next line,
// so state is required when CRLF is acceptable,
// and the same state must be passed to every call on the same cursor.
func ReadUntilEolFull(b Bucket, accept Eol, state *EolState) ([]byte, Eol, error) {
	var line []byte

	if state.Pending() {
		kept := state.kept
		state.hasKept = false
		switch {
		case kept == '\r' && accept&EolCRLF != 0:
			// The kept CR may itself start a CRLF.
			var (
				eol  Eol
				done bool
				err  error
			)
			line, eol, done, err = resolveCR(b, accept, state, []byte{kept})
			if err != nil || done {
				return line, eol, err
			}
		case kept == '\r' && accept&EolCR != 0:
			return []byte{kept}, EolCR, nil
		case kept == 0 && accept&EolZero != 0:
			return []byte{kept}, EolZero, nil
		default:
			line = []byte{kept}
		}
	} else if state == nil && accept&EolCRLF != 0 {
		return nil, EolNone, errors.Wrap(ErrInvalidArgument, "CRLF scanning requires an EolState")
	}

	for empty := 0; ; {
		frag, eol, err := ReadUntilEol(b, accept)
		if err == io.EOF {
			if line != nil {
				return line, EolNone, nil
			}
			return nil, EolNone, io.EOF
		}
		if err != nil {
			return nil, EolNone, err
		}
		if len(frag) == 0 {
			if empty++; empty == maxEmptyReads {
				return nil, EolNone, io.ErrNoProgress
			}
			continue
		}
		empty = 0

		if line == nil && eol != EolNone && eol != EolCRSplit {
			return frag, eol, nil
		}
		line = append(line, frag...)

		switch eol {
		case EolNone:
			continue

		case EolCRSplit:
			var done bool
			line, eol, done, err = resolveCR(b, accept, state, line)
			if err != nil || done {
				return line, eol, err
			}

		default:
			return line, eol, nil
		}
	}
}

// resolveCR looks at the byte after a line's trailing CR.
// It reports done when that settles where the line ends.
func resolveCR(b Bucket, accept Eol, state *EolState, line []byte) ([]byte, Eol, bool, error) {
	for {
		var (
			p   *Polled
			err error
		)
		for i := 0; p == nil || (len(p.Data) == 0 && !p.AtEOF()); i++ {
			if i == maxEmptyReads {
				return nil, EolNone, true, io.ErrNoProgress
			}
			if p, err = Poll(b, 1); err != nil {
				return nil, EolNone, true, err
			}
		}
		if p.AtEOF() {
			if accept&EolCR != 0 {
				return line, EolCR, true, nil
			}
			return line, EolNone, true, nil
		}

		next := p.Data[0]
		if err = p.Consume(1); err != nil {
			return nil, EolNone, true, err
		}
		switch {
		case next == '\n':
			return append(line, next), EolCRLF, true, nil
		case accept&EolCR != 0:
			state.kept = next
			state.hasKept = true
			return line, EolCR, true, nil
		}

		line = append(line, next)
		switch {
		case next == '\r':
			// Another CR that may start a CRLF.
			continue
		case next == 0 && accept&EolZero != 0:
			return line, EolZero, true, nil
		}
		return line, EolNone, false, nil
	}
}

func firstOf(a, b int) int {
	if a < 0 {
		return b
	}
	if b < 0 || a < b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
