package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
)

// PackObject is an object for BuildPack.
type PackObject struct {
	Type git.ObjectType
	Body []byte

	// Base, if positive, stores the object as a delta
	// against the Base'th object (counting from 1) earlier in the list.
	Base int

	// RefDelta stores a delta as a ref-delta instead of an ofs-delta.
	RefDelta bool

	// External, if set, stores the object as a ref-delta
	// against an object that is not in the pack, as in a thin pack.
	External *PackObject
}

// IndexEntry is an object's entry in a pack index.
type IndexEntry struct {
	ID     git.ID
	Offset int64
	CRC32  uint32
}

// BuildPack encodes objs as a version 2 pack.
// It returns the pack and its index entries in pack order.
func BuildPack(t testing.TB, objs []PackObject, idType git.IDType) ([]byte, []IndexEntry) {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("PACK")
	binary.Write(&buf, binary.BigEndian, uint32(2))
	binary.Write(&buf, binary.BigEndian, uint32(len(objs)))

	entries := make([]IndexEntry, len(objs))
	for i, obj := range objs {
		id, err := git.HashObject(obj.Type, bkt.NewMemory(obj.Body), idType)
		if err != nil {
			t.Fatal(err)
		}
		start := buf.Len()

		kind, data := int(obj.Type), obj.Body
		switch {
		case obj.External != nil:
			data = MakeDelta(obj.External.Body, obj.Body)
			kind = 7
		case obj.Base > 0:
			base := objs[obj.Base-1]
			data = MakeDelta(base.Body, obj.Body)
			if obj.RefDelta {
				kind = 7
			} else {
				kind = 6
			}
		}

		buf.Write(frameHeader(kind, len(data)))
		switch {
		case obj.External != nil:
			baseID, err := git.HashObject(obj.External.Type, bkt.NewMemory(obj.External.Body), idType)
			if err != nil {
				t.Fatal(err)
			}
			buf.Write(baseID.Bytes())
		case kind == 6:
			buf.Write(ofsDistance(int64(start) - entries[obj.Base-1].Offset))
		case kind == 7:
			buf.Write(entries[obj.Base-1].ID.Bytes())
		}
		buf.Write(Deflate(t, data))

		entries[i] = IndexEntry{
			ID:     id,
			Offset: int64(start),
			CRC32:  crc32.ChecksumIEEE(buf.Bytes()[start:]),
		}
	}

	buf.Write(checksum(t, buf.Bytes(), idType))
	return buf.Bytes(), entries
}

// Deflate zlib-compresses data.
func Deflate(t testing.TB, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func checksum(t testing.TB, data []byte, idType git.IDType) []byte {
	t.Helper()

	h, err := idType.Digest().New()
	if err != nil {
		t.Fatal(err)
	}
	h.Write(data)
	return h.Sum(nil)
}

func frameHeader(kind, size int) []byte {
	c := byte(kind<<4) | byte(size&0x0f)
	size >>= 4
	var out []byte
	for size > 0 {
		out = append(out, c|0x80)
		c = byte(size & 0x7f)
		size >>= 7
	}
	return append(out, c)
}

func ofsDistance(n int64) []byte {
	out := []byte{byte(n & 0x7f)}
	for n >>= 7; n > 0; n >>= 7 {
		n--
		out = append([]byte{0x80 | byte(n&0x7f)}, out...)
	}
	return out
}

func varint(n int) []byte {
	var out []byte
	for n >= 0x80 {
		out = append(out, byte(n&0x7f)|0x80)
		n >>= 7
	}
	return append(out, byte(n))
}

// MakeDelta produces delta instructions turning base into target.
// It copies the longest common prefix and suffix from base
// and inserts what lies between.
func MakeDelta(base, target []byte) []byte {
	out := append(varint(len(base)), varint(len(target))...)

	prefix := 0
	for prefix < len(base) && prefix < len(target) && base[prefix] == target[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(base)-prefix && suffix < len(target)-prefix &&
		base[len(base)-1-suffix] == target[len(target)-1-suffix] {
		suffix++
	}

	out = append(out, CopyOp(0, prefix)...)
	for mid := target[prefix : len(target)-suffix]; len(mid) > 0; {
		n := len(mid)
		if n > 0x7f {
			n = 0x7f
		}
		out = append(out, byte(n))
		out = append(out, mid[:n]...)
		mid = mid[n:]
	}
	return append(out, CopyOp(len(base)-suffix, suffix)...)
}

// CopyOp encodes delta copy instructions for size bytes of the base at offset.
func CopyOp(offset, size int) []byte {
	var out []byte
	for size > 0 {
		n := size
		if n > 0x10000 {
			n = 0x10000
		}

		op := []byte{0x80}
		for bit := 0; bit < 4; bit++ {
			if b := byte(offset >> (8 * bit)); b != 0 {
				op[0] |= 1 << bit
				op = append(op, b)
			}
		}
		if n != 0x10000 {
			for bit := 0; bit < 3; bit++ {
				if b := byte(n >> (8 * bit)); b != 0 {
					op[0] |= 0x10 << bit
					op = append(op, b)
				}
			}
		}

		out = append(out, op...)
		offset += n
		size -= n
	}
	return out
}

// IndexOptions configures BuildIndex.
type IndexOptions struct {
	// Version is 1 or 2.
	Version int

	// LargeOffsets stores every offset in the version 2 large offset table.
	LargeOffsets bool
}

// BuildIndex encodes entries as a pack index for the pack with the given checksum.
func BuildIndex(t testing.TB, entries []IndexEntry, packChecksum []byte, idType git.IDType, opts IndexOptions) []byte {
	t.Helper()

	sorted := append([]IndexEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.Less(sorted[j].ID) })

	var fanout [256]uint32
	for _, e := range sorted {
		for b := int(e.ID.Bytes()[0]); b < 256; b++ {
			fanout[b]++
		}
	}

	var buf bytes.Buffer
	if opts.Version == 2 {
		buf.Write([]byte{0xff, 't', 'O', 'c'})
		binary.Write(&buf, binary.BigEndian, uint32(2))
	}
	binary.Write(&buf, binary.BigEndian, fanout)

	if opts.Version == 1 {
		for _, e := range sorted {
			binary.Write(&buf, binary.BigEndian, uint32(e.Offset))
			buf.Write(e.ID.Bytes())
		}
	} else {
		for _, e := range sorted {
			buf.Write(e.ID.Bytes())
		}
		for _, e := range sorted {
			binary.Write(&buf, binary.BigEndian, e.CRC32)
		}
		var large []uint64
		for _, e := range sorted {
			if opts.LargeOffsets || e.Offset >= 0x80000000 {
				binary.Write(&buf, binary.BigEndian, uint32(0x80000000|len(large)))
				large = append(large, uint64(e.Offset))
			} else {
				binary.Write(&buf, binary.BigEndian, uint32(e.Offset))
			}
		}
		for _, off := range large {
			binary.Write(&buf, binary.BigEndian, off)
		}
	}

	buf.Write(packChecksum)
	buf.Write(checksum(t, buf.Bytes(), idType))
	return buf.Bytes()
}

// WritePack builds a pack of objs with its index
// and writes them as pack-test.pack and pack-test.idx in dir.
// It returns the pack path and the objects' ids.
func WritePack(t testing.TB, dir string, objs []PackObject, idType git.IDType, opts IndexOptions) (string, []git.ID) {
	t.Helper()

	packData, entries := BuildPack(t, objs, idType)
	idxData := BuildIndex(t, entries, packData[len(packData)-idType.Size():], idType, opts)

	name := "pack-" + entries[0].ID.String()
	packPath := filepath.Join(dir, name+".pack")
	if err := os.WriteFile(packPath, packData, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".idx"), idxData, 0644); err != nil {
		t.Fatal(err)
	}

	ids := make([]git.ID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return packPath, ids
}
