package postgres

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/projecthub/internal/document"
)

func TestBuildSelectWithFilterOrderAndPaging(t *testing.T) {
	q := document.Query{
		Filters: []document.Filter{document.Where("status", document.OpEqual, "todo")},
		OrderBy: &document.OrderBy{Field: "priority", Direction: document.Desc},
		Limit:   10,
		Offset:  5,
	}

	query, args, err := buildSelect("tasks", q)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, data, created_at, updated_at FROM documents"+
			" WHERE collection = $1 AND (data #> $2::text[]) = $3::jsonb AND (data #> $4::text[]) IS NOT NULL"+
			" ORDER BY (data #> $4::text[]) DESC, id DESC LIMIT $5 OFFSET $6",
		query)
	assert.Equal(t, []interface{}{
		"tasks",
		pq.Array([]string{"status"}),
		`"todo"`,
		pq.Array([]string{"priority"}),
		10,
		5,
	}, args)
}

func TestBuildSelectOperators(t *testing.T) {
	tests := []struct {
		name   string
		filter document.Filter
		want   string
	}{
		{
			name:   "not equal",
			filter: document.Where("status", document.OpNotEqual, "done"),
			want:   "((data #> $2::text[]) IS NOT NULL AND (data #> $2::text[]) <> $3::jsonb)",
		},
		{
			name:   "ordering",
			filter: document.Where("progress", document.OpGreaterEqual, 50),
			want:   "(jsonb_typeof((data #> $2::text[])) = jsonb_typeof($3::jsonb) AND (data #> $2::text[]) >= $3::jsonb)",
		},
		{
			name:   "in",
			filter: document.Where("status", document.OpIn, []string{"todo", "review"}),
			want:   "(data #> $2::text[]) = ANY($3::jsonb[])",
		},
		{
			name:   "not in",
			filter: document.Where("status", document.OpNotIn, []string{"done"}),
			want:   "((data #> $2::text[]) IS NOT NULL AND NOT ((data #> $2::text[]) = ANY($3::jsonb[])))",
		},
		{
			name:   "array contains",
			filter: document.Where("tags", document.OpArrayContains, "api"),
			want: "(jsonb_typeof((data #> $2::text[])) = 'array' AND (data #> $2::text[]) @> jsonb_build_array($3::jsonb) AND " +
				"EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof((data #> $2::text[])) = 'array' THEN (data #> $2::text[]) ELSE '[]'::jsonb END) AS e(v) WHERE e.v = $3::jsonb))",
		},
		{
			name:   "array contains any",
			filter: document.Where("tags", document.OpArrayContainsAny, []string{"api", "ui"}),
			want: "(jsonb_typeof((data #> $2::text[])) = 'array' AND (data #> $2::text[]) @> ANY($3::jsonb[]) AND " +
				"EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof((data #> $2::text[])) = 'array' THEN (data #> $2::text[]) ELSE '[]'::jsonb END) AS e(v) WHERE e.v = ANY($4::jsonb[])))",
		},
		{
			name:   "id column",
			filter: document.Where(document.FieldID, document.OpIn, []string{"a", "b"}),
			want:   "id = ANY($2::text[])",
		},
		{
			name:   "created at column",
			filter: document.Where(document.FieldCreatedAt, document.OpLess, time.Unix(0, 0)),
			want:   "created_at < $2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.filter.Validate())
			query, _, err := buildSelect("tasks", document.Query{Filters: []document.Filter{tt.filter}})
			require.NoError(t, err)
			assert.Contains(t, query, " AND "+tt.want+" ORDER BY id ASC")
		})
	}
}

func TestBuildSelectArrayContainsAnyWrapsCandidates(t *testing.T) {
	_, args, err := buildSelect("tasks", document.Query{
		Filters: []document.Filter{document.Where("tags", document.OpArrayContainsAny, []string{"api", "ui"})},
	})
	require.NoError(t, err)
	assert.Equal(t, pq.Array([]string{`["api"]`, `["ui"]`}), args[2])
	assert.Equal(t, pq.Array([]string{`"api"`, `"ui"`}), args[3])
}

func TestBuildSelectArrayContainsComparesWholeElements(t *testing.T) {
	member := document.Map(map[string]document.Value{"userId": document.String("u1")})
	query, args, err := buildSelect("projects", document.Query{
		Filters: []document.Filter{{Field: "teamMembers", Op: document.OpArrayContains, Value: member}},
	})
	require.NoError(t, err)
	assert.Contains(t, query, "WHERE e.v = $3::jsonb))")
	assert.Equal(t, `{"userId":"u1"}`, args[2])
}

func TestBuildSelectCursor(t *testing.T) {
	order := &document.OrderBy{Field: "position", Direction: document.Asc}
	after := &document.Cursor{Ordered: true, Value: document.Float(2.5), ID: "t9"}

	query, args, err := buildSelect("tasks", document.Query{OrderBy: order, After: after, Limit: 3})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, data, created_at, updated_at FROM documents"+
			" WHERE collection = $1 AND (data #> $2::text[]) IS NOT NULL"+
			" AND ((data #> $2::text[]), id) > ($3::jsonb, $4)"+
			" ORDER BY (data #> $2::text[]) ASC, id ASC LIMIT $5",
		query)
	assert.Equal(t, "2.5", args[2])
	assert.Equal(t, "t9", args[3])

	query, _, err = buildSelect("tasks", document.Query{After: &document.Cursor{ID: "t9"}})
	require.NoError(t, err)
	assert.Contains(t, query, "AND id > $2 ORDER BY id ASC")
}

func TestBuildCountSkipsDocumentsWithoutOrderField(t *testing.T) {
	query, args, err := buildCount("projects",
		[]document.Filter{document.Where("status", document.OpEqual, "active")},
		&document.OrderBy{Field: "deadline"})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT COUNT(*) FROM documents WHERE collection = $1 AND (data #> $2::text[]) = $3::jsonb AND (data #> $4::text[]) IS NOT NULL",
		query)
	assert.Len(t, args, 4)
}
