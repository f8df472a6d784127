// Package memdocs is an in-process docstore.Store used by tests and the
// "memory" storage driver.
package memdocs

import (
	"context"
	"sync"

	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
)

type Store struct {
	mu   sync.RWMutex
	cols map[string]map[string]docstore.Doc
	hub  *docstore.Hub

	// FailWrites makes every write return this error. Tests use it to
	// simulate an unreachable backend.
	failMu     sync.RWMutex
	failWrites error
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		cols: map[string]map[string]docstore.Doc{},
		hub:  docstore.NewHub(),
	}
}

func (s *Store) Close() { s.hub.Close() }

// FailWrites makes subsequent writes fail with err until called with nil.
func (s *Store) FailWrites(err error) {
	s.failMu.Lock()
	s.failWrites = err
	s.failMu.Unlock()
}

func (s *Store) writeErr() error {
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	return s.failWrites
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.cols[collection][id]
	if !ok {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	return docstore.Clone(d), nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	return q.Apply(s.snapshots(collection)), nil
}

func (s *Store) snapshots(collection string) []docstore.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]docstore.Snapshot, 0, len(s.cols[collection]))
	for id, d := range s.cols[collection] {
		out = append(out, docstore.Snapshot{ID: id, Data: docstore.Clone(d), Exists: true})
	}
	return out
}

func (s *Store) Set(ctx context.Context, collection, id string, doc docstore.Doc, opts docstore.SetOptions) error {
	if err := s.writeErr(); err != nil {
		return err
	}
	s.mu.Lock()
	col, ok := s.cols[collection]
	if !ok {
		col = map[string]docstore.Doc{}
		s.cols[collection] = col
	}
	cur, exists := col[id]
	if opts.Merge && exists {
		for k, v := range docstore.Clone(doc) {
			cur[k] = v
		}
	} else {
		col[id] = docstore.Clone(doc)
	}
	s.mu.Unlock()

	s.hub.Notify(collection, id)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, partial docstore.Doc) error {
	if err := s.writeErr(); err != nil {
		return err
	}
	s.mu.Lock()
	cur, ok := s.cols[collection][id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	plain, inc := docstore.SplitIncrements(partial)
	for k, v := range docstore.Clone(plain) {
		cur[k] = v
	}
	for k, n := range inc {
		cur[k] = docstore.Number(cur[k]) + float64(n)
	}
	s.mu.Unlock()

	s.hub.Notify(collection, id)
	return nil
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string, fn func(docstore.Snapshot, error)) (docstore.Unsubscribe, error) {
	return s.hub.Watch(ctx, collection, id, func(ctx context.Context) {
		s.mu.RLock()
		d, ok := s.cols[collection][id]
		snap := docstore.Snapshot{ID: id, Exists: ok, Data: docstore.Clone(d)}
		s.mu.RUnlock()
		if ctx.Err() == nil {
			fn(snap, nil)
		}
	}), nil
}

func (s *Store) SubscribeQuery(ctx context.Context, collection string, q docstore.Query, fn func([]docstore.Snapshot, error)) (docstore.Unsubscribe, error) {
	return s.hub.Watch(ctx, collection, "", func(ctx context.Context) {
		out := q.Apply(s.snapshots(collection))
		if ctx.Err() == nil {
			fn(out, nil)
		}
	}), nil
}
