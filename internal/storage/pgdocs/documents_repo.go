package pgdocs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BearBump/FleetTrack/internal/storage/docstore"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) Get(ctx context.Context, collection, id string) (docstore.Doc, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select document")
	}
	return decodeDoc(raw)
}

func (s *Storage) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Snapshot, error) {
	sql, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query documents")
	}
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, errors.Wrap(err, "scan document")
		}
		d, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, docstore.Snapshot{ID: id, Data: d, Exists: true})
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func buildQuery(collection string, q docstore.Query) (string, []any, error) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString(`SELECT id, doc FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		contains, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			return "", nil, errors.Wrap(err, "encode filter")
		}
		args = append(args, string(contains))
		fmt.Fprintf(&b, ` AND doc @> $%d::jsonb`, len(args))
	}

	b.WriteString(` ORDER BY `)
	for _, o := range q.OrderBy {
		args = append(args, o.Field)
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, `doc -> $%d::text %s, `, len(args), dir)
	}
	b.WriteString(`id ASC`)

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args))
	}
	return b.String(), args, nil
}

func (s *Storage) Set(ctx context.Context, collection, id string, doc docstore.Doc, opts docstore.SetOptions) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	onConflict := `doc = EXCLUDED.doc`
	if opts.Merge {
		onConflict = `doc = documents.doc || EXCLUDED.doc`
	}
	return s.write(ctx, collection, id, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO documents (collection, id, doc)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, id)
DO UPDATE SET `+onConflict+`, updated_at = now()
`, collection, id, string(raw))
		return errors.Wrap(err, "upsert document")
	})
}

func (s *Storage) Update(ctx context.Context, collection, id string, partial docstore.Doc) error {
	plain, inc := docstore.SplitIncrements(partial)
	raw, err := json.Marshal(plain)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	expr, args := buildUpdate(inc, []any{collection, id, string(raw)})
	return s.write(ctx, collection, id, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE documents SET doc = `+expr+`, updated_at = now()
WHERE collection = $1 AND id = $2
`, args...)
		if err != nil {
			return errors.Wrap(err, "update document")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(docstore.ErrNotFound, "%s/%s", collection, id)
		}
		return nil
	})
}

// buildUpdate returns the new-document expression for Update. Increments
// read the row's current value, so concurrent updates add up under the row
// lock. args must already hold $1..$3.
func buildUpdate(inc map[string]int64, args []any) (string, []any) {
	expr := `doc || $3::jsonb`
	fields := make([]string, 0, len(inc))
	for k := range inc {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	for _, f := range fields {
		args = append(args, f, inc[f])
		field, n := len(args)-1, len(args)
		expr = fmt.Sprintf(`jsonb_set(%s, ARRAY[$%d::text], to_jsonb(COALESCE((doc->>$%d::text)::numeric, 0) + $%d::bigint))`,
			expr, field, field, n)
	}
	return expr, args
}

// write runs fn and announces the change in the same transaction, so
// listeners only hear about committed writes.
func (s *Storage) write(ctx context.Context, collection, id string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection+"/"+id); err != nil {
		return errors.Wrap(err, "notify change")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) SubscribeDoc(ctx context.Context, collection, id string, fn func(docstore.Snapshot, error)) (docstore.Unsubscribe, error) {
	return s.hub.Watch(ctx, collection, id, func(ctx context.Context) {
		d, err := s.Get(ctx, collection, id)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			fn(docstore.Snapshot{ID: id}, nil)
		case err != nil:
			fn(docstore.Snapshot{ID: id}, err)
		default:
			fn(docstore.Snapshot{ID: id, Data: d, Exists: true}, nil)
		}
	}), nil
}

func (s *Storage) SubscribeQuery(ctx context.Context, collection string, q docstore.Query, fn func([]docstore.Snapshot, error)) (docstore.Unsubscribe, error) {
	return s.hub.Watch(ctx, collection, "", func(ctx context.Context) {
		out, err := s.Query(ctx, collection, q)
		if ctx.Err() != nil {
			return
		}
		fn(out, err)
	}), nil
}

func decodeDoc(raw []byte) (docstore.Doc, error) {
	var d docstore.Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	return d, nil
}
