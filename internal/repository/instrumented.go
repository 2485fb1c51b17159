package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

// Instrument wraps b so that every call is counted and timed.
func Instrument(b Backend, m *metrics.Metrics) Backend {
	if m == nil {
		return b
	}
	return &instrumented{next: b, metrics: m}
}

type instrumented struct {
	next    Backend
	metrics *metrics.Metrics
}

func (i *instrumented) Insert(ctx context.Context, collection, id string, fields document.Fields) (doc document.Document, err error) {
	defer i.observe("insert", time.Now(), &err)
	return i.next.Insert(ctx, collection, id, fields)
}

func (i *instrumented) Get(ctx context.Context, collection, id string) (doc *document.Document, err error) {
	defer i.observe("get", time.Now(), &err)
	return i.next.Get(ctx, collection, id)
}

func (i *instrumented) Patch(ctx context.Context, collection, id string, fields document.Fields) (doc document.Document, err error) {
	defer i.observe("patch", time.Now(), &err)
	return i.next.Patch(ctx, collection, id, fields)
}

func (i *instrumented) Remove(ctx context.Context, collection, id string) (err error) {
	defer i.observe("remove", time.Now(), &err)
	return i.next.Remove(ctx, collection, id)
}

func (i *instrumented) Query(ctx context.Context, collection string, q document.Query) (docs []document.Document, err error) {
	defer i.observe("query", time.Now(), &err)
	return i.next.Query(ctx, collection, q)
}

func (i *instrumented) Count(ctx context.Context, collection string, filters []document.Filter) (n int64, err error) {
	defer i.observe("count", time.Now(), &err)
	return i.next.Count(ctx, collection, filters)
}

func (i *instrumented) QueryWithCount(ctx context.Context, collection string, q document.Query) (docs []document.Document, total int64, err error) {
	defer i.observe("query_with_count", time.Now(), &err)
	return i.next.QueryWithCount(ctx, collection, q)
}

func (i *instrumented) Ping(ctx context.Context) (err error) {
	defer i.observe("ping", time.Now(), &err)
	return i.next.Ping(ctx)
}

func (i *instrumented) observe(operation string, started time.Time, err *error) {
	i.metrics.ObserveDatabase(operation, started, *err)
}
