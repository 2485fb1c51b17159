// Package repository provides the typed document repository on top of a
// storage Backend.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/realtime"
	"github.com/jwalitptl/projecthub/pkg/logger"
)

// DefaultMaxPageSize caps page sizes when Options.MaxPageSize is unset.
const DefaultMaxPageSize = 100

// ErrSubscriptionsDisabled is returned by the Subscribe methods of a
// repository built without a hub.
var ErrSubscriptionsDisabled = errors.New("subscriptions are not enabled")

// Codec maps an entity to stored fields and back. Decode receives the
// document id and server timestamps along with the fields.
type Codec[T any] interface {
	Encode(entity T) (document.Fields, error)
	Decode(doc document.Document) (T, error)
}

// Unsubscribe ends a subscription. Calling it more than once is harmless.
type Unsubscribe func()

// QueryOptions orders and limits FindWhere and SubscribeToQuery results.
type QueryOptions struct {
	OrderBy *document.OrderBy
	Limit   int
}

type PaginationOptions struct {
	Page    int
	Limit   int
	OrderBy *document.OrderBy
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type PaginatedResult[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// PageRequest asks for the page following Cursor, a token returned as
// Page.NextCursor. An empty Cursor starts from the beginning.
type PageRequest struct {
	Limit   int
	Cursor  string
	OrderBy *document.OrderBy
}

type Page[T any] struct {
	Data       []T    `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Options wires the optional collaborators of a Repository.
type Options struct {
	// Feed receives a change event after every successful write.
	Feed realtime.Feed
	// Hub serves the Subscribe methods.
	Hub         *realtime.Hub
	Logger      *logger.Logger
	MaxPageSize int
}

// Repository stores entities of type T in one collection.
type Repository[T any] struct {
	collection  string
	backend     Backend
	codec       Codec[T]
	feed        realtime.Feed
	hub         *realtime.Hub
	logger      *logger.Logger
	maxPageSize int
	newID       func() string
}

func New[T any](collection string, backend Backend, codec Codec[T], opts Options) *Repository[T] {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return &Repository[T]{
		collection:  collection,
		backend:     backend,
		codec:       codec,
		feed:        opts.Feed,
		hub:         opts.Hub,
		logger:      log.With("collection", collection),
		maxPageSize: maxPageSize,
		newID:       uuid.NewString,
	}
}

func (r *Repository[T]) Collection() string {
	return r.collection
}

// Create stores entity under a generated id and returns the id.
func (r *Repository[T]) Create(ctx context.Context, entity T) (string, error) {
	id := r.newID()
	if err := r.CreateWithID(ctx, id, entity); err != nil {
		return "", err
	}
	return id, nil
}

// CreateWithID stores entity under the given id. Creation and update times
// are set by the backend.
func (r *Repository[T]) CreateWithID(ctx context.Context, id string, entity T) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", document.ErrInvalidArgument)
	}
	fields, err := r.encode(entity)
	if err != nil {
		return err
	}
	if _, err := r.backend.Insert(ctx, r.collection, id, fields); err != nil {
		return fmt.Errorf("failed to create %s document: %w", r.collection, err)
	}
	r.publish(ctx, id, realtime.ChangeCreated)
	return nil
}

// CreateBatch creates entities in order and stops at the first failure.
// Documents created before the failure are kept; their ids are returned
// together with the error.
func (r *Repository[T]) CreateBatch(ctx context.Context, entities []T) ([]string, error) {
	ids := make([]string, 0, len(entities))
	for i, entity := range entities {
		id, err := r.Create(ctx, entity)
		if err != nil {
			return ids, fmt.Errorf("batch item %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FindByID returns nil, nil when the document does not exist.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	doc, err := r.backend.Get(ctx, r.collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", r.collection, id, err)
	}
	if doc == nil {
		return nil, nil
	}
	entity, err := r.decode(*doc)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// Update merges patch into the stored document. Fields set to
// document.Delete() are removed. Updating a missing document fails with
// document.ErrNoDocument.
func (r *Repository[T]) Update(ctx context.Context, id string, patch document.Fields) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if _, err := r.backend.Patch(ctx, r.collection, id, patch); err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", r.collection, id, err)
	}
	r.publish(ctx, id, realtime.ChangeUpdated)
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	if err := r.backend.Remove(ctx, r.collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", r.collection, id, err)
	}
	r.publish(ctx, id, realtime.ChangeDeleted)
	return nil
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.FindWhere(ctx, nil, nil)
}

func (r *Repository[T]) FindWhere(ctx context.Context, filters []document.Filter, opts *QueryOptions) ([]T, error) {
	q := buildQuery(filters, opts)
	if err := q.Validate(); err != nil {
		return nil, err
	}
	docs, err := r.backend.Query(ctx, r.collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.collection, err)
	}
	return r.decodeAll(docs)
}

// FindPaginated returns page opts.Page (1-based) of the matching entities
// along with the total match count.
func (r *Repository[T]) FindPaginated(ctx context.Context, filters []document.Filter, opts PaginationOptions) (*PaginatedResult[T], error) {
	if opts.Page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", document.ErrInvalidArgument)
	}
	if opts.Limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1", document.ErrInvalidArgument)
	}
	limit := min(opts.Limit, r.maxPageSize)

	q := document.Query{
		Filters: filters,
		OrderBy: opts.OrderBy,
		Limit:   limit,
		Offset:  (opts.Page - 1) * limit,
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs, total, err := r.backend.QueryWithCount(ctx, r.collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to paginate %s: %w", r.collection, err)
	}
	data, err := r.decodeAll(docs)
	if err != nil {
		return nil, err
	}

	return &PaginatedResult[T]{
		Data: data,
		Pagination: Pagination{
			Page:       opts.Page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages(total, limit),
		},
	}, nil
}

// FindPage returns the page following req.Cursor. NextCursor is empty on the
// last page.
func (r *Repository[T]) FindPage(ctx context.Context, filters []document.Filter, req PageRequest) (*Page[T], error) {
	if req.Limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1", document.ErrInvalidArgument)
	}
	limit := min(req.Limit, r.maxPageSize)

	q := document.Query{
		Filters: filters,
		OrderBy: req.OrderBy,
		Limit:   limit + 1,
	}
	if req.Cursor != "" {
		cur, err := document.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		q.After = cur
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs, err := r.backend.Query(ctx, r.collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to page %s: %w", r.collection, err)
	}

	page := &Page[T]{}
	if len(docs) > limit {
		docs = docs[:limit]
		next, err := document.CursorAfter(docs[limit-1], req.OrderBy).Encode()
		if err != nil {
			return nil, err
		}
		page.NextCursor = next
	}
	if page.Data, err = r.decodeAll(docs); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *Repository[T]) Count(ctx context.Context, filters []document.Filter) (int64, error) {
	if err := document.ValidateFilters(filters); err != nil {
		return 0, err
	}
	n, err := r.backend.Count(ctx, r.collection, filters)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.collection, err)
	}
	return n, nil
}

func (r *Repository[T]) Exists(ctx context.Context, id string) (bool, error) {
	doc, err := r.backend.Get(ctx, r.collection, id)
	if err != nil {
		return false, fmt.Errorf("failed to get %s/%s: %w", r.collection, id, err)
	}
	return doc != nil, nil
}

// SubscribeToCollection delivers the whole collection now and after every
// change to it.
func (r *Repository[T]) SubscribeToCollection(ctx context.Context, onData func([]T), onError func(error)) (Unsubscribe, error) {
	return r.SubscribeToQuery(ctx, nil, nil, onData, onError)
}

// SubscribeToDocument delivers the entity now and after every change to it.
// onData receives nil while the document does not exist.
func (r *Repository[T]) SubscribeToDocument(ctx context.Context, id string, onData func(*T), onError func(error)) (Unsubscribe, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", document.ErrInvalidArgument)
	}
	target := realtime.Target{Collection: r.collection, DocumentID: id}
	return r.watch(ctx, target, func(docs []document.Document) error {
		if len(docs) == 0 {
			onData(nil)
			return nil
		}
		entity, err := r.decode(docs[0])
		if err != nil {
			return err
		}
		onData(&entity)
		return nil
	}, onError)
}

// SubscribeToQuery delivers the matching entities now and whenever the
// result changes.
func (r *Repository[T]) SubscribeToQuery(ctx context.Context, filters []document.Filter, opts *QueryOptions, onData func([]T), onError func(error)) (Unsubscribe, error) {
	target := realtime.Target{Collection: r.collection, Query: buildQuery(filters, opts)}
	return r.watch(ctx, target, func(docs []document.Document) error {
		entities, err := r.decodeAll(docs)
		if err != nil {
			return err
		}
		onData(entities)
		return nil
	}, onError)
}

func (r *Repository[T]) watch(ctx context.Context, target realtime.Target, deliver func([]document.Document) error, onError func(error)) (Unsubscribe, error) {
	if r.hub == nil {
		return nil, ErrSubscriptionsDisabled
	}
	report := func(err error) {
		if onError != nil {
			onError(err)
			return
		}
		r.logger.Error(err, "subscription error", "document_id", target.DocumentID)
	}
	sub, err := r.hub.Watch(ctx, target, func(docs []document.Document) {
		if err := deliver(docs); err != nil {
			report(err)
		}
	}, report)
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (r *Repository[T]) publish(ctx context.Context, id string, kind realtime.ChangeKind) {
	if r.feed == nil {
		return
	}
	event := realtime.ChangeEvent{
		Collection: r.collection,
		ID:         id,
		Kind:       kind,
		At:         time.Now().UTC(),
	}
	if err := r.feed.Publish(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Error(err, "failed to publish change event", "id", id, "kind", string(kind))
	}
}

func (r *Repository[T]) encode(entity T) (document.Fields, error) {
	fields, err := r.codec.Encode(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s document: %w", r.collection, err)
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *Repository[T]) decode(doc document.Document) (T, error) {
	entity, err := r.codec.Decode(doc)
	if err != nil {
		return entity, fmt.Errorf("failed to decode %s/%s: %w", r.collection, doc.ID, err)
	}
	return entity, nil
}

func (r *Repository[T]) decodeAll(docs []document.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		entity, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func buildQuery(filters []document.Filter, opts *QueryOptions) document.Query {
	q := document.Query{Filters: filters}
	if opts != nil {
		q.OrderBy = opts.OrderBy
		q.Limit = opts.Limit
	}
	return q
}

func totalPages(total int64, limit int) int {
	if total <= 0 || limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
