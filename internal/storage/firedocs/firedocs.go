// Package firedocs implements docstore.Store on Cloud Firestore through the
// Firebase Admin SDK.
package firedocs

import (
	"context"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Store struct {
	client *firestore.Client
}

var _ docstore.Store = (*Store)(nil)

// New connects with the given service-account file, or application default
// credentials when credentialsFile is empty.
func New(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase app")
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firestore client")
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() {
	_ = s.client.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Doc, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr(err, collection, id)
	}
	return docstore.Doc(snap.Data()), nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	docs, err := buildQuery(s.client.Collection(collection).Query, q).Documents(ctx).GetAll()
	if err != nil {
		return nil, errors.Wrap(err, "firestore query")
	}
	return toSnapshots(docs), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc docstore.Doc, opts docstore.SetOptions) error {
	ref := s.client.Collection(collection).Doc(id)
	var err error
	if opts.Merge {
		_, err = ref.Set(ctx, map[string]interface{}(doc), firestore.Merge(mergePaths(doc)...))
	} else {
		_, err = ref.Set(ctx, map[string]interface{}(doc))
	}
	return errors.Wrap(err, "firestore set")
}

func (s *Store) Update(ctx context.Context, collection, id string, partial docstore.Doc) error {
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updatesOf(partial))
	if err != nil {
		return mapErr(err, collection, id)
	}
	return nil
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string, fn func(docstore.Snapshot, error)) (docstore.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(collection).Doc(id).Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if status.Code(err) == codes.Canceled {
					return
				}
				fn(docstore.Snapshot{ID: id}, errors.Wrap(err, "firestore doc snapshot"))
				return
			}
			if !snap.Exists() {
				fn(docstore.Snapshot{ID: id}, nil)
				continue
			}
			fn(docstore.Snapshot{ID: id, Data: docstore.Doc(snap.Data()), Exists: true}, nil)
		}
	}()
	return docstore.Unsubscribe(cancel), nil
}

func (s *Store) SubscribeQuery(ctx context.Context, collection string, q docstore.Query, fn func([]docstore.Snapshot, error)) (docstore.Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := buildQuery(s.client.Collection(collection).Query, q).Snapshots(ctx)
	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if status.Code(err) == codes.Canceled {
					return
				}
				fn(nil, errors.Wrap(err, "firestore query snapshot"))
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				logrus.WithError(err).WithField("collection", collection).Warn("firedocs: read query snapshot")
				fn(nil, errors.Wrap(err, "firestore query snapshot"))
				continue
			}
			fn(toSnapshots(docs), nil)
		}
	}()
	return docstore.Unsubscribe(cancel), nil
}

func buildQuery(base firestore.Query, q docstore.Query) firestore.Query {
	out := base
	for _, f := range q.Filters {
		out = out.Where(f.Field, "==", f.Value)
	}
	for _, o := range q.OrderBy {
		dir := firestore.Asc
		if o.Desc {
			dir = firestore.Desc
		}
		out = out.OrderBy(o.Field, dir)
	}
	if q.Limit > 0 {
		out = out.Limit(q.Limit)
	}
	return out
}

func toSnapshots(docs []*firestore.DocumentSnapshot) []docstore.Snapshot {
	out := make([]docstore.Snapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, docstore.Snapshot{ID: d.Ref.ID, Data: docstore.Doc(d.Data()), Exists: d.Exists()})
	}
	return out
}

// mergePaths limits a merge to the top-level fields of doc, so nested maps
// are replaced whole as in the other stores.
func mergePaths(doc docstore.Doc) []firestore.FieldPath {
	out := make([]firestore.FieldPath, 0, len(doc))
	for k := range doc {
		out = append(out, firestore.FieldPath{k})
	}
	return out
}

func updatesOf(partial docstore.Doc) []firestore.Update {
	out := make([]firestore.Update, 0, len(partial))
	for k, v := range partial {
		if n, ok := v.(docstore.Increment); ok {
			v = firestore.Increment(int64(n))
		}
		out = append(out, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return out
}

func mapErr(err error, collection, id string) error {
	if status.Code(err) == codes.NotFound {
		return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	return errors.Wrap(err, "firestore")
}
