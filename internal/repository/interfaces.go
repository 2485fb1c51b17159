package repository

import (
	"context"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/model"
)

// Backend stores schema-less documents grouped into collections. Insert
// fails with document.ErrAlreadyExists for a taken id, Patch fails with
// document.ErrNoDocument for a missing one, Get returns nil for a missing
// document and Remove of a missing document succeeds.
type Backend interface {
	Insert(ctx context.Context, collection, id string, fields document.Fields) (document.Document, error)
	Get(ctx context.Context, collection, id string) (*document.Document, error)
	Patch(ctx context.Context, collection, id string, fields document.Fields) (document.Document, error)
	Remove(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q document.Query) ([]document.Document, error)
	Count(ctx context.Context, collection string, filters []document.Filter) (int64, error)
	// QueryWithCount returns one page of q together with the number of
	// documents matching q's filters, both read from the same snapshot.
	QueryWithCount(ctx context.Context, collection string, q document.Query) ([]document.Document, int64, error)
	Ping(ctx context.Context) error
}

// All entity repository interfaces in one file
type (
	// EntityRepository is the typed document repository the services use.
	EntityRepository[T any] interface {
		Create(ctx context.Context, entity T) (string, error)
		CreateWithID(ctx context.Context, id string, entity T) error
		CreateBatch(ctx context.Context, entities []T) ([]string, error)
		FindByID(ctx context.Context, id string) (*T, error)
		Update(ctx context.Context, id string, patch document.Fields) error
		Delete(ctx context.Context, id string) error
		FindAll(ctx context.Context) ([]T, error)
		FindWhere(ctx context.Context, filters []document.Filter, opts *QueryOptions) ([]T, error)
		FindPaginated(ctx context.Context, filters []document.Filter, opts PaginationOptions) (*PaginatedResult[T], error)
		FindPage(ctx context.Context, filters []document.Filter, req PageRequest) (*Page[T], error)
		Count(ctx context.Context, filters []document.Filter) (int64, error)
		Exists(ctx context.Context, id string) (bool, error)
		SubscribeToCollection(ctx context.Context, onData func([]T), onError func(error)) (Unsubscribe, error)
		SubscribeToDocument(ctx context.Context, id string, onData func(*T), onError func(error)) (Unsubscribe, error)
		SubscribeToQuery(ctx context.Context, filters []document.Filter, opts *QueryOptions, onData func([]T), onError func(error)) (Unsubscribe, error)
	}

	ProjectRepository = EntityRepository[model.Project]
	TaskRepository    = EntityRepository[model.Task]
	UserRepository    = EntityRepository[model.User]
)
