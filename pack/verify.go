package pack

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/digest"
	"github.com/bobg/bkt/git"
)

// ObjectInfo describes an object checked by Verify.
type ObjectInfo struct {
	ID         git.ID
	Type       git.ObjectType
	Size       int64 // inflated size
	PackedSize int64 // size of the frame in the pack
	Offset     int64
	Depth      int // delta chain length
}

// Report is the result of Verify.
type Report struct {
	// Objects is in pack order.
	Objects []ObjectInfo

	// Checksum is the pack's trailing checksum.
	Checksum git.ID

	// XXH64 is a fast hash of the whole pack file,
	// for comparing copies of it.
	XXH64 []byte
}

// Verify checks every object in the pack against its index entry.
// It inflates each object, applies deltas and rehashes the result,
// and for version 2 indexes compares the CRC32 of the raw frame.
// It also checks the pack's trailing checksum.
// Up to parallel objects are checked at once; 0 means no limit.
func (p *Pack) Verify(ctx context.Context, parallel int) (*Report, error) {
	entries := make([]Entry, p.idx.Count())
	for i := range entries {
		e, err := p.idx.Entry(i)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })

	length, err := p.f.Length()
	if err != nil {
		return nil, err
	}
	end := length - int64(p.idType.Size())
	if end < headerSize {
		return nil, bkt.Formatf("pack", "%d bytes is too short", length)
	}

	packed := make([]int64, len(entries))
	for i, e := range entries {
		next := end
		if i+1 < len(entries) {
			next = entries[i+1].Offset
		}
		if packed[i] = next - e.Offset; packed[i] <= 0 {
			return nil, bkt.Formatf("pack", "object %s at %d overlaps the next one", e.ID, e.Offset)
		}
	}

	report := &Report{Objects: make([]ObjectInfo, len(entries))}

	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	g.Go(func() error {
		sum, err := p.checksum(end)
		report.Checksum = sum
		return err
	})
	g.Go(func() error {
		sum, err := p.hashFile(digest.XXH64)
		report.XXH64 = sum
		return err
	})

	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := p.verifyObject(e, packed[i])
			if err != nil {
				return errors.Wrapf(err, "verifying %s at %d", e.ID, e.Offset)
			}
			report.Objects[i] = info
			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// checksum compares the trailing checksum with a hash of the rest of the pack.
func (p *Pack) checksum(end int64) (git.ID, error) {
	d, err := p.f.DuplicateFile(true)
	if err != nil {
		return git.ID{}, err
	}
	defer d.Close()

	h, err := digest.New(bkt.Take(bkt.NoClose(d), end), p.idType.Digest())
	if err != nil {
		return git.ID{}, err
	}
	if _, err = bkt.Drain(h); err != nil {
		return git.ID{}, err
	}

	trailer, err := bkt.ReadFull(d, p.idType.Size())
	if err != nil {
		return git.ID{}, errors.Wrap(err, "reading pack checksum")
	}
	if !bytes.Equal(h.Sum(), trailer) {
		return git.ID{}, bkt.Formatf("pack", "checksum %x does not match contents %x", trailer, h.Sum())
	}
	return git.IDFromBytes(p.idType, trailer)
}

func (p *Pack) hashFile(algo digest.Algorithm) ([]byte, error) {
	d, err := p.f.DuplicateFile(true)
	if err != nil {
		return nil, err
	}
	h, err := digest.New(d, algo)
	if err != nil {
		d.Close()
		return nil, err
	}
	defer h.Close()

	if _, err = bkt.Drain(h); err != nil {
		return nil, err
	}
	return h.Sum(), nil
}

func (p *Pack) verifyObject(e Entry, packed int64) (ObjectInfo, error) {
	info := ObjectInfo{ID: e.ID, Offset: e.Offset, PackedSize: packed}

	if p.idx.Version() >= 2 {
		d, err := p.f.DuplicateFile(true)
		if err != nil {
			return info, err
		}
		crc, err := digest.New(bkt.Take(bkt.Skip(d, e.Offset), packed), digest.CRC32)
		if err != nil {
			d.Close()
			return info, err
		}
		_, err = bkt.Drain(crc)
		crc.Close()
		if err != nil {
			return info, errors.Wrap(err, "reading raw frame")
		}
		if got := binary.BigEndian.Uint32(crc.Sum()); got != e.CRC32 {
			return info, bkt.Formatf("pack", "frame crc32 %08x, index says %08x", got, e.CRC32)
		}
	}

	f, err := p.ObjectAt(e.Offset, p.resolveInPack)
	if err != nil {
		return info, err
	}
	defer f.Close()

	if info.Type, err = f.ReadType(); err != nil {
		return info, err
	}
	if info.Size, err = f.Size(); err != nil {
		return info, err
	}
	if info.Depth, err = f.Depth(); err != nil {
		return info, err
	}

	id, err := git.HashObject(info.Type, f, p.idType)
	if err != nil {
		return info, err
	}
	if id != e.ID {
		return info, bkt.Formatf("pack", "object hashes to %s", id)
	}
	return info, nil
}

// resolveInPack resolves ref-delta bases among the pack's own objects.
func (p *Pack) resolveInPack(id git.ID) (git.ObjectBucket, error) {
	f, ok, err := p.Object(id, p.resolveInPack)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrMissingBase, "%s is not in %s", id, p.path)
	}
	return f, nil
}
