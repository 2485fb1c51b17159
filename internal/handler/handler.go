// Package handler holds the helpers shared by the HTTP handlers: list query
// parsing, error mapping and server-sent event streams.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/repository"
	apperrors "github.com/jwalitptl/projecthub/pkg/errors"
	"github.com/jwalitptl/projecthub/pkg/httputil"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// KeepAlive is how often an idle event stream sends a ping event.
var KeepAlive = 15 * time.Second

// ListQuery is the parsed form of the list query string:
//
//	?where=status:==:todo&where=tags:array-contains:"ui"&orderBy=title&direction=desc&page=2&limit=10
//
// A where value is read as JSON when it parses as JSON and as a plain string
// otherwise, so "42" is a number and "\"42\"" is a string. Values compared
// against createdAt or updatedAt may also be RFC 3339 timestamps. Passing a
// cursor parameter, even an empty one, selects cursor paging.
type ListQuery struct {
	Filters   []document.Filter
	OrderBy   *document.OrderBy
	Page      int
	Limit     int
	Cursor    string
	UseCursor bool
	// Paginated is set once any paging, ordering or where parameter is
	// present.
	Paginated bool
}

// ParseListQuery reads a ListQuery from c. Errors are bad requests.
func ParseListQuery(c *gin.Context) (*ListQuery, error) {
	q := &ListQuery{Page: 1, Limit: DefaultLimit}

	for _, raw := range c.QueryArray("where") {
		f, err := ParseFilter(raw)
		if err != nil {
			return nil, apperrors.BadRequest("invalid where parameter", err)
		}
		q.Filters = append(q.Filters, f)
		q.Paginated = true
	}

	if field := c.Query("orderBy"); field != "" {
		dir, err := document.ParseDirection(c.Query("direction"))
		if err != nil {
			return nil, apperrors.BadRequest("invalid direction", err)
		}
		q.OrderBy = &document.OrderBy{Field: field, Direction: dir}
		q.Paginated = true
	}

	var err error
	if q.Page, err = positiveInt(c, "page", 1); err != nil {
		return nil, err
	}
	if q.Limit, err = positiveInt(c, "limit", DefaultLimit); err != nil {
		return nil, err
	}
	q.Limit = min(q.Limit, MaxLimit)

	q.Cursor, q.UseCursor = c.GetQuery("cursor")
	_, hasPage := c.GetQuery("page")
	_, hasLimit := c.GetQuery("limit")
	if hasPage || hasLimit || q.UseCursor {
		q.Paginated = true
	}
	return q, nil
}

func positiveInt(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.BadRequest(fmt.Sprintf("%s must be a positive integer", name), nil)
	}
	return n, nil
}

// ParseFilter reads one field:op:value triple.
func ParseFilter(raw string) (document.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return document.Filter{}, fmt.Errorf("%w: want field:op:value, got %q", document.ErrInvalidFilter, raw)
	}
	op, err := document.ParseOperator(parts[1])
	if err != nil {
		return document.Filter{}, err
	}
	return document.Filter{Field: parts[0], Op: op, Value: parseValue(parts[0], parts[2])}, nil
}

func parseValue(field, raw string) document.Value {
	if field == document.FieldCreatedAt || field == document.FieldUpdatedAt {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return document.Timestamp(t)
		}
	}
	var v document.Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return document.String(raw)
	}
	return v
}

// Error maps storage and subscription errors onto API errors and writes the
// response.
func Error(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
	case errors.Is(err, document.ErrNoDocument):
		err = apperrors.NotFound("document", err)
	case errors.Is(err, document.ErrAlreadyExists):
		err = apperrors.Conflict("document already exists", err)
	case errors.Is(err, document.ErrInvalidFilter),
		errors.Is(err, document.ErrInvalidField),
		errors.Is(err, document.ErrInvalidCursor),
		errors.Is(err, document.ErrInvalidArgument):
		err = apperrors.BadRequest("invalid request", err)
	}
	httputil.RespondWithError(c, err)
}

// BindError answers a request whose body failed to bind.
func BindError(c *gin.Context, err error) {
	httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
}

// Stream serves a subscription as server-sent events. subscribe starts the
// live query; each delivery is sent as a "snapshot" event, and when the
// client falls behind only the latest snapshot is kept. The stream ends when
// the client goes away.
func Stream[T any](c *gin.Context, subscribe func(ctx context.Context, onData func(T), onError func(error)) (repository.Unsubscribe, error)) {
	ctx := c.Request.Context()
	latest := make(chan T, 1)
	failures := make(chan error, 1)

	onData := func(v T) {
		for {
			select {
			case latest <- v:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	}
	onError := func(err error) {
		select {
		case failures <- err:
		default:
		}
	}

	unsubscribe, err := subscribe(ctx, onData, onError)
	if err != nil {
		Error(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ping := time.NewTicker(KeepAlive)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case v := <-latest:
			c.SSEvent("snapshot", v)
		case err := <-failures:
			log.Ctx(ctx).Warn().Err(err).Str("path", c.FullPath()).Msg("subscription error")
			c.SSEvent("error", gin.H{"message": err.Error()})
		case <-ping.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
		}
		return true
	})
}

// Paginate answers a list request with one page, by page number or by
// cursor depending on q.
func Paginate[T any](c *gin.Context, q *ListQuery,
	byNumber func(context.Context, []document.Filter, repository.PaginationOptions) (*repository.PaginatedResult[T], error),
	byCursor func(context.Context, []document.Filter, repository.PageRequest) (*repository.Page[T], error),
) {
	ctx := c.Request.Context()
	if q.UseCursor {
		page, err := byCursor(ctx, q.Filters, repository.PageRequest{Limit: q.Limit, Cursor: q.Cursor, OrderBy: q.OrderBy})
		if err != nil {
			Error(c, err)
			return
		}
		httputil.RespondWithPagination(c, page.Data, httputil.Pagination{Limit: q.Limit, NextCursor: page.NextCursor})
		return
	}

	res, err := byNumber(ctx, q.Filters, repository.PaginationOptions{Page: q.Page, Limit: q.Limit, OrderBy: q.OrderBy})
	if err != nil {
		Error(c, err)
		return
	}
	httputil.RespondWithPagination(c, res.Data, httputil.Pagination{
		Page:       res.Pagination.Page,
		Limit:      res.Pagination.Limit,
		Total:      res.Pagination.Total,
		TotalPages: res.Pagination.TotalPages,
	})
}
