// Package pack reads Git pack files and their indexes.
package pack

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
)

// ErrNoIndex means there is no usable index,
// for instance because its version is newer than this package understands.
var ErrNoIndex = errors.New("no usable pack index")

var indexMagic = []byte{0xff, 't', 'O', 'c'}

const fanoutSize = 256 * 4

// Index is a pack index (.idx) file, version 1 or 2.
// It is safe for concurrent use.
type Index struct {
	f       *bkt.File
	idType  git.IDType
	version int
	fanout  [256]uint32

	// Offsets of the sections within the file.
	// Version 1 has only entries: 4-byte offset then id, per object.
	entriesOff int64
	crcOff     int64
	offsetsOff int64
	largeOff   int64

	comparisons int64 // atomic; total id comparisons made by Lookup
	lookupBytes int64 // atomic; total index bytes read by Lookup
}

// Entry describes one object in an index.
type Entry struct {
	ID     git.ID
	Offset int64

	// CRC32 is the checksum of the object's raw frame in the pack.
	// Version 1 indexes have none and leave it zero.
	CRC32 uint32
}

// OpenIndex opens the index file at path.
func OpenIndex(path string, idType git.IDType) (*Index, error) {
	f, err := bkt.OpenFile(path, bkt.WithRandomAccess())
	if err != nil {
		return nil, err
	}
	idx, err := NewIndex(f, idType)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reading index %s", path)
	}
	return idx, nil
}

// NewIndex reads the header and fan-out table of an index.
// The index owns f.
func NewIndex(f *bkt.File, idType git.IDType) (*Index, error) {
	idx := &Index{f: f, idType: idType}

	head, err := idx.readAt(0, 8)
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	var fanoutOff int64
	if bytes.Equal(head[:4], indexMagic) {
		v := binary.BigEndian.Uint32(head[4:])
		if v != 2 {
			return nil, errors.Wrapf(ErrNoIndex, "index version %d", v)
		}
		idx.version = 2
		fanoutOff = 8
	} else {
		idx.version = 1
	}

	fanout, err := idx.readAt(fanoutOff, fanoutSize)
	if err != nil {
		return nil, errors.Wrap(err, "reading fan-out table")
	}
	var prev uint32
	for i := range idx.fanout {
		n := binary.BigEndian.Uint32(fanout[4*i:])
		if n < prev {
			return nil, bkt.Formatf("pack index", "fan-out entry %d decreases", i)
		}
		idx.fanout[i], prev = n, n
	}

	var (
		count  = int64(idx.Count())
		idSize = int64(idType.Size())
		min    int64
	)
	idx.entriesOff = fanoutOff + fanoutSize
	if idx.version == 1 {
		min = idx.entriesOff + count*(4+idSize) + 2*idSize
	} else {
		idx.crcOff = idx.entriesOff + count*idSize
		idx.offsetsOff = idx.crcOff + count*4
		idx.largeOff = idx.offsetsOff + count*4
		min = idx.largeOff + 2*idSize
	}

	length, err := f.Length()
	if err != nil {
		return nil, err
	}
	if length < min {
		return nil, bkt.Formatf("pack index", "%d bytes is too short for %d objects", length, count)
	}
	return idx, nil
}

// readAt reads n bytes at offset off through a fresh cursor.
func (idx *Index) readAt(off int64, n int) ([]byte, error) {
	d, err := idx.f.DuplicateFile(true)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	data, err := seekRead(d, off, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, data)
	return out, nil
}

// seekRead moves d to off and reads n bytes.
// The result is valid until the next read from d.
// Nearby reads are served from d's buffer.
func seekRead(d *bkt.File, off int64, n int) ([]byte, error) {
	if err := d.Reset(); err != nil {
		return nil, err
	}
	if err := bkt.SkipFull(d, off); err != nil {
		return nil, err
	}
	return bkt.ReadFull(d, n)
}

// Version is the index format version, 1 or 2.
func (idx *Index) Version() int {
	return idx.version
}

// Count is the number of objects in the index.
func (idx *Index) Count() int {
	return int(idx.fanout[255])
}

// IDType is the type of the ids in the index.
func (idx *Index) IDType() git.IDType {
	return idx.idType
}

// bucket is the range of entries whose ids start with b.
func (idx *Index) bucket(b byte) (start, end int) {
	if b > 0 {
		start = int(idx.fanout[b-1])
	}
	return start, int(idx.fanout[b])
}

func (idx *Index) stride() int {
	if idx.version == 1 {
		return 4 + idx.idType.Size()
	}
	return idx.idType.Size()
}

func (idx *Index) entryOffset(i int) int64 {
	return idx.entriesOff + int64(i)*int64(idx.stride())
}

// Lookup finds the pack offset of the object with the given id.
// It reports false if the index does not contain it.
func (idx *Index) Lookup(id git.ID) (int64, bool, error) {
	if id.Type() != idx.idType {
		return 0, false, errors.Wrapf(bkt.ErrInvalidArgument, "looking up %s id in %s index", id.Type(), idx.idType)
	}
	want := id.Bytes()
	start, end := idx.bucket(want[0])
	if start == end {
		return 0, false, nil
	}

	d, err := idx.f.DuplicateFile(true)
	if err != nil {
		return 0, false, err
	}
	defer d.Close()

	var (
		stride = idx.stride()
		idPos  = int64(stride - len(want)) // id position within an entry

		comparisons, nbytes int64
		readErr             error
	)
	i := sort.Search(end-start, func(i int) bool {
		if readErr != nil {
			return true
		}
		comparisons++
		nbytes += int64(len(want))
		got, err := seekRead(d, idx.entryOffset(start+i)+idPos, len(want))
		if err != nil {
			readErr = err
			return true
		}
		return bytes.Compare(got, want) >= 0
	})
	atomic.AddInt64(&idx.comparisons, comparisons)
	defer func() { atomic.AddInt64(&idx.lookupBytes, nbytes) }()

	if readErr != nil {
		return 0, false, errors.Wrapf(readErr, "reading index entry in %d..%d", start, end)
	}
	if i == end-start {
		return 0, false, nil
	}

	nbytes += int64(stride)
	entry, err := seekRead(d, idx.entryOffset(start+i), stride)
	if err != nil {
		return 0, false, errors.Wrapf(err, "reading index entry %d", start+i)
	}
	if !bytes.Equal(entry[idPos:], want) {
		return 0, false, nil
	}

	if idx.version == 1 {
		return int64(binary.BigEndian.Uint32(entry)), true, nil
	}
	offset, err := idx.offset(start + i)
	return offset, true, err
}

// offset resolves the pack offset of entry i of a version 2 index.
func (idx *Index) offset(i int) (int64, error) {
	data, err := idx.readAt(idx.offsetsOff+int64(i)*4, 4)
	if err != nil {
		return 0, errors.Wrap(err, "reading offset")
	}
	v := binary.BigEndian.Uint32(data)
	if v&0x80000000 == 0 {
		return int64(v), nil
	}

	data, err = idx.readAt(idx.largeOff+int64(v&0x7fffffff)*8, 8)
	if err != nil {
		return 0, errors.Wrap(err, "reading large offset")
	}
	large := binary.BigEndian.Uint64(data)
	if large > 1<<63-1 {
		return 0, bkt.Formatf("pack index", "offset %d out of range", large)
	}
	return int64(large), nil
}

// Entry returns entry i, in id order.
func (idx *Index) Entry(i int) (Entry, error) {
	if i < 0 || i >= idx.Count() {
		return Entry{}, errors.Wrapf(bkt.ErrInvalidArgument, "entry %d of %d", i, idx.Count())
	}

	data, err := idx.readAt(idx.entryOffset(i), idx.stride())
	if err != nil {
		return Entry{}, errors.Wrapf(err, "reading entry %d", i)
	}

	var e Entry
	if idx.version == 1 {
		e.Offset = int64(binary.BigEndian.Uint32(data))
		e.ID, err = git.IDFromBytes(idx.idType, data[4:])
		return e, err
	}

	if e.ID, err = git.IDFromBytes(idx.idType, data); err != nil {
		return Entry{}, err
	}
	if e.Offset, err = idx.offset(i); err != nil {
		return Entry{}, err
	}
	crc, err := idx.readAt(idx.crcOff+int64(i)*4, 4)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "reading crc %d", i)
	}
	e.CRC32 = binary.BigEndian.Uint32(crc)
	return e, nil
}

// Entries calls f for each entry in id order,
// starting with the first id after start.
func (idx *Index) Entries(start git.ID, f func(Entry) error) error {
	first := 0
	if !start.IsZero() {
		b := start.Bytes()
		lo, hi := idx.bucket(b[0])
		first = lo
		for first < hi {
			e, err := idx.Entry(first)
			if err != nil {
				return err
			}
			if e.ID.Compare(start) > 0 {
				break
			}
			first++
		}
	}
	for i := first; i < idx.Count(); i++ {
		e, err := idx.Entry(i)
		if err != nil {
			return err
		}
		if err = f(e); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the index file.
func (idx *Index) Close() error {
	return idx.f.Close()
}
