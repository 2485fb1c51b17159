package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/projecthub/internal/document"
)

// uniqueViolation is the SQLSTATE for duplicate primary keys.
const uniqueViolation = "23505"

// Store is a document backend over a single JSONB table.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type row struct {
	ID        string    `db:"id"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r row) document() (document.Document, error) {
	fields, err := document.DecodeFields(r.Data)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to decode document %s: %w", r.ID, err)
	}
	return document.Document{
		ID:         r.ID,
		Fields:     fields,
		CreateTime: r.CreatedAt.UTC(),
		UpdateTime: r.UpdatedAt.UTC(),
	}, nil
}

func toDocuments(rows []row) ([]document.Document, error) {
	docs := make([]document.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Insert(ctx context.Context, collection, id string, fields document.Fields) (document.Document, error) {
	set, _ := fields.Split()
	data, err := document.EncodeFields(set)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, now(), now())
		RETURNING ` + selectColumns

	var r row
	if err := s.db.GetContext(ctx, &r, query, collection, id, string(data)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return document.Document{}, fmt.Errorf("%w: %s/%s", document.ErrAlreadyExists, collection, id)
		}
		return document.Document{}, fmt.Errorf("failed to insert document: %w", err)
	}
	return r.document()
}

func (s *Store) Get(ctx context.Context, collection, id string) (*document.Document, error) {
	query := `SELECT ` + selectColumns + ` FROM documents WHERE collection = $1 AND id = $2`

	var r row
	if err := s.db.GetContext(ctx, &r, query, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc, err := r.document()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Patch merges the top-level fields into data and drops fields set to the
// delete marker.
func (s *Store) Patch(ctx context.Context, collection, id string, fields document.Fields) (document.Document, error) {
	set, remove := fields.Split()
	data, err := document.EncodeFields(set)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to encode patch: %w", err)
	}
	if remove == nil {
		remove = []string{}
	}

	query := `
		UPDATE documents
		SET data = (data || $3::jsonb) - $4::text[], updated_at = now()
		WHERE collection = $1 AND id = $2
		RETURNING ` + selectColumns

	var r row
	if err := s.db.GetContext(ctx, &r, query, collection, id, string(data), pq.Array(remove)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return document.Document{}, fmt.Errorf("%w: %s/%s", document.ErrNoDocument, collection, id)
		}
		return document.Document{}, fmt.Errorf("failed to update document: %w", err)
	}
	return r.document()
}

func (s *Store) Remove(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`

	if _, err := s.db.ExecContext(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q document.Query) ([]document.Document, error) {
	query, args, err := buildSelect(collection, q)
	if err != nil {
		return nil, err
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	return toDocuments(rows)
}

func (s *Store) Count(ctx context.Context, collection string, filters []document.Filter) (int64, error) {
	query, args, err := buildCount(collection, filters, nil)
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// QueryWithCount reads the total and the page in one read-only repeatable
// read transaction so both come from the same snapshot.
func (s *Store) QueryWithCount(ctx context.Context, collection string, q document.Query) ([]document.Document, int64, error) {
	countQuery, countArgs, err := buildCount(collection, q.Filters, q.OrderBy)
	if err != nil {
		return nil, 0, err
	}
	selectQuery, selectArgs, err := buildSelect(collection, q)
	if err != nil {
		return nil, 0, err
	}

	var (
		total int64
		rows  []row
	)
	err = s.withReadTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
			return fmt.Errorf("failed to count documents: %w", err)
		}
		if err := tx.SelectContext(ctx, &rows, selectQuery, selectArgs...); err != nil {
			return fmt.Errorf("failed to query documents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	docs, err := toDocuments(rows)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withReadTx executes fn within a read-only snapshot transaction
func (s *Store) withReadTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
