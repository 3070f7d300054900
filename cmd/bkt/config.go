package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
	"github.com/bobg/bkt/store/logging"
	_ "github.com/bobg/bkt/store/loose"
	_ "github.com/bobg/bkt/store/lru"
	_ "github.com/bobg/bkt/store/mem"
	_ "github.com/bobg/bkt/store/packs"
	"github.com/bobg/bkt/store/repo"
)

// openStore creates the store described by the config file,
// or, if there is none, the store of the repository in gitDir.
// The result is an io.Closer when it holds open files.
func (c maincmd) openStore(ctx context.Context) (store.Store, error) {
	s, err := storeFromConfig(ctx, c.config)
	if errors.Is(err, os.ErrNotExist) {
		s, err = repo.Open(c.gitDir, 0, 0)
		err = errors.Wrapf(err, "opening repository %s", c.gitDir)
	}
	if err != nil {
		return nil, err
	}
	if c.verbose {
		s = logging.New(s, nil)
	}
	return s, nil
}

func closeStore(s store.Store) {
	if c, ok := s.(io.Closer); ok {
		c.Close()
	}
	if w, ok := s.(wrapper); ok {
		closeStore(w.Unwrap())
	}
}

type wrapper interface {
	Unwrap() store.Store
}

func storeFromConfig(ctx context.Context, filename string) (store.Store, error) {
	conf, err := readConfig(filename)
	if err != nil {
		return nil, err
	}
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.Errorf("config file %s missing `type` parameter", filename)
	}
	return store.Create(ctx, typ, conf)
}

// readConfig decodes a YAML config file.
// JSON is a subset of YAML, so JSON config files work too.
func readConfig(filename string) (map[string]interface{}, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", filename)
	}
	defer f.Close()

	var conf map[string]interface{}
	if err = yaml.NewDecoder(f).Decode(&conf); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", filename)
	}
	return conf, nil
}

// idTypeOf is the id type of the objects in s.
func idTypeOf(s store.Store) git.IDType {
	type idTyper interface{ IDType() git.IDType }
	if t, ok := s.(idTyper); ok {
		return t.IDType()
	}
	if w, ok := s.(wrapper); ok {
		return idTypeOf(w.Unwrap())
	}
	return git.SHA1
}
