package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/gc"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
	"github.com/bobg/bkt/store/repo"
)

func (c maincmd) catFile(ctx context.Context, showType, showSize, _ bool, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cat-file [-t|-s|-p] ID")
	}
	id, err := git.ParseID(args[0])
	if err != nil {
		return err
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(s)

	obj, err := s.Get(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "getting object %s", id)
	}
	defer obj.Close()

	switch {
	case showType:
		typ, err := obj.ReadType()
		if err != nil {
			return errors.Wrapf(err, "reading type of %s", id)
		}
		fmt.Println(typ)

	case showSize:
		size, ok, err := bkt.Remaining(obj)
		if err != nil {
			return errors.Wrapf(err, "reading size of %s", id)
		}
		if !ok {
			if size, err = bkt.Drain(obj); err != nil {
				return errors.Wrapf(err, "reading %s", id)
			}
		}
		fmt.Println(size)

	default:
		_, err = bkt.Copy(os.Stdout, obj)
		return errors.Wrapf(err, "writing %s to stdout", id)
	}
	return nil
}

func (c maincmd) hashObject(ctx context.Context, write bool, typName, format string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hash-object [-w] [-t TYPE] FILE")
	}
	typ, err := git.ParseObjectType(typName)
	if err != nil {
		return err
	}

	var body bkt.Bucket
	if name := args[0]; name == "-" {
		body = bkt.NewStream(os.Stdin, 0)
	} else {
		f, err := bkt.OpenFile(name)
		if err != nil {
			return err
		}
		body = f
	}
	defer body.Close()

	if !write {
		idType := git.SHA1
		if format != "" {
			if idType, err = git.ParseIDType(format); err != nil {
				return err
			}
		} else if t, err := repo.DetectIDType(c.gitDir); err == nil {
			idType = t
		}
		id, err := git.HashObject(typ, body, idType)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(s)

	if format != "" {
		want, err := git.ParseIDType(format)
		if err != nil {
			return err
		}
		if got := idTypeOf(s); got != want {
			return errors.Errorf("store uses %s ids, not %s", got, want)
		}
	}

	id, _, err := s.Put(ctx, typ, body)
	if err != nil {
		return errors.Wrap(err, "storing object")
	}
	fmt.Println(id)
	return nil
}

func (c maincmd) list(ctx context.Context, start string, long bool, batch int, _ []string) error {
	var startID git.ID
	if start != "" {
		var err error
		if startID, err = git.ParseID(start); err != nil {
			return errors.Wrap(err, "parsing start id")
		}
	}

	s, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(s)

	if !long {
		return s.ListIDs(ctx, startID, func(id git.ID) error {
			_, err := fmt.Println(id)
			return err
		})
	}

	var pending []git.ID
	flush := func() error {
		infos, err := store.StatMulti(ctx, s, pending, runtime.NumCPU())
		if err != nil {
			return err
		}
		for _, id := range pending {
			fmt.Printf("%s %-6s %d\n", id, infos[id].Type, infos[id].Size)
		}
		pending = pending[:0]
		return nil
	}
	err = s.ListIDs(ctx, startID, func(id git.ID) error {
		pending = append(pending, id)
		if len(pending) >= batch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (c maincmd) sync(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: sync GITDIR GITDIR...")
	}

	var stores []store.Store
	for _, dir := range args {
		r, err := repo.Open(dir, 0, 0)
		if err != nil {
			return errors.Wrapf(err, "opening %s", dir)
		}
		defer r.Close()
		stores = append(stores, r)
	}

	copied, err := store.Sync(ctx, stores)
	if err != nil {
		return err
	}
	fmt.Printf("copied %d objects\n", copied)
	return nil
}

func (c maincmd) prunePacked(ctx context.Context, _ []string) error {
	r, err := repo.Open(c.gitDir, 0, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", c.gitDir)
	}
	defer r.Close()

	n, err := gc.Run(ctx, r.Loose(), r.Packs())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d loose objects\n", n)
	return nil
}
