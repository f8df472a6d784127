// Package docstore is the document-store contract the fleet services persist
// through: JSON-like documents keyed by (collection, id), equality queries,
// merge writes and push subscriptions.
package docstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("document not found")

type Doc map[string]any

type Filter struct {
	Field string
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

// Query selects documents whose fields equal every filter value, sorted by
// OrderBy and capped at Limit (0 means no cap).
type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Field: field, Desc: desc})
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

type Snapshot struct {
	ID     string
	Data   Doc
	Exists bool
}

// Increment, as a value in an Update partial, adds to the stored number in
// the same write instead of replacing it. A missing field counts as 0.
type Increment int64

// SplitIncrements separates the Increment fields of an Update partial from
// the plain ones.
func SplitIncrements(partial Doc) (Doc, map[string]int64) {
	plain := make(Doc, len(partial))
	var inc map[string]int64
	for k, v := range partial {
		n, ok := v.(Increment)
		if !ok {
			plain[k] = v
			continue
		}
		if inc == nil {
			inc = make(map[string]int64)
		}
		inc[k] = int64(n)
	}
	return plain, inc
}

// Number reads a stored numeric value; anything else counts as 0.
func Number(v any) float64 {
	f, _ := toFloat(v)
	return f
}

type SetOptions struct {
	// Merge replaces only the top-level fields present in the written doc.
	Merge bool
}

type Unsubscribe func()

// Store is implemented by memdocs, pgdocs and firedocs.
// Subscription callbacks run on a store goroutine, first with the current
// state and then after every change; calls for one subscription never overlap.
type Store interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
	Set(ctx context.Context, collection, id string, doc Doc, opts SetOptions) error
	Update(ctx context.Context, collection, id string, partial Doc) error
	SubscribeDoc(ctx context.Context, collection, id string, fn func(Snapshot, error)) (Unsubscribe, error)
	SubscribeQuery(ctx context.Context, collection string, q Query, fn func([]Snapshot, error)) (Unsubscribe, error)
}

// Encode turns a JSON-tagged struct into a Doc.
func Encode(v any) (Doc, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrap(err, "encode document")
	}
	return d, nil
}

// Decode fills a JSON-tagged struct from a Doc.
func Decode(d Doc, v any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "decode document")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, "decode document")
	}
	return nil
}

// Clone deep-copies a Doc made of JSON-like values.
func Clone(d Doc) Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Doc:
		return Clone(t)
	case map[string]any:
		return map[string]any(Clone(Doc(t)))
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
