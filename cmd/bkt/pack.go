package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/pack"
)

func (c maincmd) showIndex(ctx context.Context, format string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show-index IDXFILE")
	}
	idType, err := git.ParseIDType(format)
	if err != nil {
		return err
	}

	idx, err := pack.OpenIndex(args[0], idType)
	if err != nil {
		return err
	}
	defer idx.Close()

	return idx.Entries(git.ID{}, func(e pack.Entry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if idx.Version() == 1 {
			fmt.Printf("%d %s\n", e.Offset, e.ID)
		} else {
			fmt.Printf("%d %s (%08x)\n", e.Offset, e.ID, e.CRC32)
		}
		return nil
	})
}

func (c maincmd) verifyPack(ctx context.Context, parallel int, verbose bool, format string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: verify-pack [-j N] [-v] PACKFILE")
	}
	idType, err := git.ParseIDType(format)
	if err != nil {
		return err
	}

	p, err := pack.Open(args[0], "", idType)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.Verify(ctx, parallel)
	if err != nil {
		return errors.Wrapf(err, "verifying %s", p.Path())
	}

	if verbose {
		depths := make(map[int]int)
		for _, info := range report.Objects {
			fmt.Printf("%s %-6s %d %d %d", info.ID, info.Type, info.Size, info.PackedSize, info.Offset)
			if info.Depth > 0 {
				fmt.Printf(" %d", info.Depth)
			}
			fmt.Println()
			depths[info.Depth]++
		}
		for d := 0; len(depths) > 0; d++ {
			if n, ok := depths[d]; ok {
				if d == 0 {
					fmt.Printf("non delta: %d objects\n", n)
				} else {
					fmt.Printf("chain length = %d: %d objects\n", d, n)
				}
				delete(depths, d)
			}
		}
	}
	fmt.Printf("%s: ok (checksum %s, xxh64 %x)\n", p.Path(), report.Checksum, report.XXH64)
	return nil
}
