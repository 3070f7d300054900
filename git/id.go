// Package git describes Git objects and their ids,
// and reads loose objects through buckets.
package git

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/bkt/digest"
)

// IDType is the hash function naming objects in a repository.
type IDType int

const (
	SHA1 IDType = iota + 1
	SHA256
)

func (t IDType) String() string {
	switch t {
	case SHA1:
		return "sha1"
	case SHA256:
		return "sha256"
	}
	return fmt.Sprintf("IDType(%d)", int(t))
}

// Size is the length in bytes of ids of this type.
func (t IDType) Size() int {
	switch t {
	case SHA1:
		return 20
	case SHA256:
		return 32
	}
	return 0
}

// Digest is the hash algorithm producing ids of this type.
func (t IDType) Digest() digest.Algorithm {
	if t == SHA256 {
		return digest.SHA256
	}
	return digest.SHA1
}

// ParseIDType parses "sha1" or "sha256".
func ParseIDType(s string) (IDType, error) {
	switch strings.ToLower(s) {
	case "sha1", "":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	}
	return 0, errors.Errorf("unknown object format %q", s)
}

// ID is the name of a Git object: the hash of its header and body.
// IDs are comparable and may be used as map keys.
type ID struct {
	typ IDType
	b   [32]byte
}

// ErrBadID is the error for a malformed object id.
var ErrBadID = errors.New("bad object id")

// ParseID parses a hex object id.
// Its length selects the type: 40 digits for SHA1, 64 for SHA256.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)

	var typ IDType
	switch len(s) {
	case 2 * 20:
		typ = SHA1
	case 2 * 32:
		typ = SHA256
	default:
		return ID{}, errors.Wrapf(ErrBadID, "%q has length %d", s, len(s))
	}

	var id ID
	id.typ = typ
	if _, err := hex.Decode(id.b[:typ.Size()], []byte(s)); err != nil {
		return ID{}, errors.Wrapf(ErrBadID, "decoding %q: %s", s, err)
	}
	return id, nil
}

// IDFromBytes produces an ID of the given type from its raw bytes.
func IDFromBytes(typ IDType, b []byte) (ID, error) {
	if n := typ.Size(); n == 0 || len(b) != n {
		return ID{}, errors.Wrapf(ErrBadID, "%d bytes for a %s id", len(b), typ)
	}
	var id ID
	id.typ = typ
	copy(id.b[:], b)
	return id, nil
}

// Type is the id's type.
func (id ID) Type() IDType {
	return id.typ
}

// Bytes is the raw id.
func (id ID) Bytes() []byte {
	return id.b[:id.typ.Size()]
}

func (id ID) String() string {
	return hex.EncodeToString(id.Bytes())
}

// Compare orders ids by their raw bytes.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id.Bytes(), other.Bytes())
}

// Less tells whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// IsZero tells whether id is the zero ID.
func (id ID) IsZero() bool {
	return id == ID{}
}
