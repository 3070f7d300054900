package git

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/digest"
)

// ObjectType is the type of a Git object.
type ObjectType int

const (
	Commit ObjectType = iota + 1
	Tree
	Blob
	Tag
)

func (t ObjectType) String() string {
	switch t {
	case Commit:
		return "commit"
	case Tree:
		return "tree"
	case Blob:
		return "blob"
	case Tag:
		return "tag"
	}
	return fmt.Sprintf("ObjectType(%d)", int(t))
}

// Valid tells whether t is one of the four object types.
func (t ObjectType) Valid() bool {
	return t >= Commit && t <= Tag
}

// ParseObjectType parses an object type name as it appears in object headers.
func ParseObjectType(s string) (ObjectType, error) {
	switch s {
	case "commit":
		return Commit, nil
	case "tree":
		return Tree, nil
	case "blob":
		return Blob, nil
	case "tag":
		return Tag, nil
	}
	return 0, bkt.Formatf("object type", "unknown object type %q", s)
}

// ObjectBucket is a bucket yielding the body of a Git object.
type ObjectBucket interface {
	bkt.Bucket

	// ReadType reads as much as needed to learn the object's type.
	ReadType() (ObjectType, error)
}

// Header is the "<type> <size>\0" prefix hashed before an object's body.
func Header(typ ObjectType, size int64) []byte {
	h := make([]byte, 0, 32)
	h = append(h, typ.String()...)
	h = append(h, ' ')
	h = strconv.AppendInt(h, size, 10)
	return append(h, 0)
}

// HashObject computes the id of an object with the given type and body.
// It reads body to its end but does not close it.
func HashObject(typ ObjectType, body bkt.Bucket, idType IDType) (ID, error) {
	size, ok, err := bkt.Remaining(body)
	if err != nil {
		return ID{}, errors.Wrap(err, "getting body length")
	}
	if !ok {
		data, err := bkt.ReadAll(body)
		if err != nil {
			return ID{}, errors.Wrap(err, "reading body")
		}
		body, size = bkt.NewMemory(data), int64(len(data))
	}

	h, err := digest.New(bkt.NewAggregate(bkt.NewMemory(Header(typ, size)), bkt.NoClose(body)), idType.Digest())
	if err != nil {
		return ID{}, err
	}
	if _, err = bkt.Drain(h); err != nil {
		return ID{}, err
	}
	return IDFromBytes(idType, h.Sum())
}
