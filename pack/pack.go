package pack

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
)

var packMagic = []byte("PACK")

const headerSize = 12

// Pack is a pack file with its index.
// It is safe for concurrent use:
// every object read gets its own cursor over the shared file.
type Pack struct {
	f       *bkt.File
	idx     *Index
	idType  git.IDType
	version uint32
	count   uint32
	path    string
}

// Open opens the pack file at packPath and its index at idxPath.
// If idxPath is empty it is derived from packPath.
func Open(packPath, idxPath string, idType git.IDType) (*Pack, error) {
	if idxPath == "" {
		idxPath = strings.TrimSuffix(packPath, ".pack") + ".idx"
	}
	idx, err := OpenIndex(idxPath, idType)
	if err != nil {
		return nil, err
	}
	f, err := bkt.OpenFile(packPath, bkt.WithRandomAccess())
	if err != nil {
		idx.Close()
		return nil, err
	}
	p, err := New(f, idx)
	if err != nil {
		f.Close()
		idx.Close()
		return nil, errors.Wrapf(err, "opening %s", packPath)
	}
	p.path = packPath
	return p, nil
}

// New produces a Pack from an open pack file and its index.
// The Pack owns both.
func New(f *bkt.File, idx *Index) (*Pack, error) {
	d, err := f.DuplicateFile(true)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	head, err := bkt.ReadFull(d, headerSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading pack header")
	}
	if !bytes.Equal(head[:4], packMagic) {
		return nil, bkt.Formatf("pack", "bad signature %q", head[:4])
	}
	version := binary.BigEndian.Uint32(head[4:])
	if version != 2 && version != 3 {
		return nil, bkt.Formatf("pack", "unsupported version %d", version)
	}
	count := binary.BigEndian.Uint32(head[8:])
	if int(count) != idx.Count() {
		return nil, bkt.Formatf("pack", "pack has %d objects, index has %d", count, idx.Count())
	}

	return &Pack{
		f:       f,
		idx:     idx,
		idType:  idx.IDType(),
		version: version,
		count:   count,
		path:    bkt.Name(f),
	}, nil
}

// Index is the pack's index.
func (p *Pack) Index() *Index {
	return p.idx
}

// Version is the pack format version, 2 or 3.
func (p *Pack) Version() int {
	return int(p.version)
}

// Count is the number of objects in the pack.
func (p *Pack) Count() int {
	return int(p.count)
}

// Path is the pack file's name.
func (p *Pack) Path() string {
	return p.path
}

// Contains tells whether the pack has the object with the given id.
func (p *Pack) Contains(id git.ID) (bool, error) {
	_, ok, err := p.idx.Lookup(id)
	return ok, err
}

// Object produces a bucket reading the object with the given id.
// It reports false if the pack does not contain it.
// Ref-delta bases are obtained from resolver, which may be nil
// if the pack has no ref-deltas.
func (p *Pack) Object(id git.ID, resolver Resolver) (*Frame, bool, error) {
	offset, ok, err := p.idx.Lookup(id)
	if err != nil || !ok {
		return nil, false, err
	}
	f, err := p.ObjectAt(offset, resolver)
	return f, err == nil, err
}

// ObjectAt produces a bucket reading the object whose frame starts at offset.
func (p *Pack) ObjectAt(offset int64, resolver Resolver) (*Frame, error) {
	if offset < headerSize {
		return nil, bkt.Formatf("pack", "object offset %d inside header", offset)
	}
	d, err := p.f.DuplicateFile(true)
	if err != nil {
		return nil, err
	}
	if err = bkt.SkipFull(d, offset); err != nil {
		d.Close()
		return nil, errors.Wrapf(err, "seeking to object at %d", offset)
	}
	return NewFrame(d, p.idType, resolver), nil
}

// Close releases the pack and index files.
// Buckets already produced by Object stay usable until they are closed.
func (p *Pack) Close() error {
	err := p.f.Close()
	if err2 := p.idx.Close(); err == nil {
		err = err2
	}
	return err
}
