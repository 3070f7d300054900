// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/git"
	"github.com/bobg/bkt/store"
)

var _ store.Store = &Store{}

// Store logs the operations of a nested store.
type Store struct {
	s      store.Store
	logger *slog.Logger
}

// New produces a Store logging to logger, or to slog.Default if logger is nil.
func New(s store.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{s: s, logger: logger}
}

// Unwrap is the nested store.
func (s *Store) Unwrap() store.Store {
	return s.s
}

func (s *Store) Get(ctx context.Context, id git.ID) (git.ObjectBucket, error) {
	start := time.Now()
	obj, err := s.s.Get(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Get", "id", id, errAttr(err), "elapsed", time.Since(start))
		return nil, err
	}
	attrs := []any{"id", id, "elapsed", time.Since(start)}
	if size, ok, err := bkt.Remaining(obj); err == nil && ok {
		attrs = append(attrs, "size", size)
	}
	s.logger.DebugContext(ctx, "Get", attrs...)
	return obj, nil
}

func (s *Store) ListIDs(ctx context.Context, start git.ID, f func(git.ID) error) error {
	var (
		t0 = time.Now()
		n  int
	)
	err := s.s.ListIDs(ctx, start, func(id git.ID) error {
		n++
		err := f(id)
		if err != nil {
			s.logger.ErrorContext(ctx, "ListIDs callback", "id", id, errAttr(err))
		}
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "ListIDs", "start", start, "count", n, errAttr(err), "elapsed", time.Since(t0))
	} else {
		s.logger.DebugContext(ctx, "ListIDs", "start", start, "count", n, "elapsed", time.Since(t0))
	}
	return err
}

func (s *Store) Put(ctx context.Context, typ git.ObjectType, body bkt.Bucket) (git.ID, bool, error) {
	start := time.Now()
	size, _, _ := bkt.Remaining(body)
	id, added, err := s.s.Put(ctx, typ, body)
	if err != nil {
		s.logger.ErrorContext(ctx, "Put", "type", typ, errAttr(err), "elapsed", time.Since(start))
	} else {
		s.logger.DebugContext(ctx, "Put", "id", id, "type", typ, "size", size, "added", added, "elapsed", time.Since(start))
	}
	return id, added, err
}

// errAttr logs only the message of err.
// A TextHandler would print a pkg/errors stack trace with it.
func errAttr(err error) slog.Attr {
	return slog.String("err", err.Error())
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (store.Store, error) {
		nestedStore, err := store.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nestedStore, nil), nil
	})
}
