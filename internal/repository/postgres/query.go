package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/jwalitptl/projecthub/internal/document"
)

const selectColumns = "id, data, created_at, updated_at"

var columns = map[string]string{
	document.FieldID:        "id",
	document.FieldCreatedAt: "created_at",
	document.FieldUpdatedAt: "updated_at",
}

var orderingOps = map[document.Operator]string{
	document.OpLess:         "<",
	document.OpLessEqual:    "<=",
	document.OpGreater:      ">",
	document.OpGreaterEqual: ">=",
}

// builder accumulates positional arguments while a statement is assembled.
type builder struct {
	args       []interface{}
	conditions []string
}

func newBuilder(collection string) *builder {
	b := &builder{}
	b.conditions = append(b.conditions, "collection = "+b.bind(collection))
	return b
}

func (b *builder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) bindJSON(v document.Value) (string, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	return b.bind(string(data)) + "::jsonb", nil
}

// bindJSONList binds each value, or each value wrapped in a one-element
// array when wrap is set, as a jsonb[] parameter.
func (b *builder) bindJSONList(vs []document.Value, wrap bool) (string, error) {
	list := make([]string, len(vs))
	for i, v := range vs {
		if wrap {
			v = document.Array(v)
		}
		data, err := v.MarshalJSON()
		if err != nil {
			return "", err
		}
		list[i] = string(data)
	}
	return b.bind(pq.Array(list)) + "::jsonb[]", nil
}

// field returns the SQL expression addressing a field path. Reserved fields
// map to their columns; everything else is read from data.
func (b *builder) field(path string) (expr string, column bool) {
	if col, ok := columns[path]; ok {
		return col, true
	}
	return fmt.Sprintf("(data #> %s::text[])", b.bind(pq.Array(strings.Split(path, ".")))), false
}

func (b *builder) where(filters []document.Filter) error {
	for _, f := range filters {
		cond, err := b.filter(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", document.ErrInvalidFilter, f, err)
		}
		b.conditions = append(b.conditions, cond)
	}
	return nil
}

func (b *builder) filter(f document.Filter) (string, error) {
	expr, column := b.field(f.Field)
	if column {
		return b.columnFilter(expr, f)
	}

	switch f.Op {
	case document.OpEqual:
		p, err := b.bindJSON(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", expr, p), nil
	case document.OpNotEqual:
		p, err := b.bindJSON(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> %s)", expr, expr, p), nil
	case document.OpLess, document.OpLessEqual, document.OpGreater, document.OpGreaterEqual:
		p, err := b.bindJSON(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(jsonb_typeof(%s) = jsonb_typeof(%s) AND %s %s %s)", expr, p, expr, orderingOps[f.Op], p), nil
	case document.OpIn:
		arr, _ := f.Value.AsArray()
		p, err := b.bindJSONList(arr, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = ANY(%s)", expr, p), nil
	case document.OpNotIn:
		arr, _ := f.Value.AsArray()
		p, err := b.bindJSONList(arr, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NOT NULL AND NOT (%s = ANY(%s)))", expr, expr, p), nil
	case document.OpArrayContains:
		p, err := b.bindJSON(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> jsonb_build_array(%s) AND %s)",
			expr, expr, p, hasElement(expr, "= "+p)), nil
	case document.OpArrayContainsAny:
		arr, _ := f.Value.AsArray()
		wrapped, err := b.bindJSONList(arr, true)
		if err != nil {
			return "", err
		}
		p, err := b.bindJSONList(arr, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(jsonb_typeof(%s) = 'array' AND %s @> ANY(%s) AND %s)",
			expr, expr, wrapped, hasElement(expr, "= ANY("+p+")")), nil
	}
	return "", fmt.Errorf("unsupported operator %q", f.Op)
}

// hasElement tests the elements of the array at expr against cond. jsonb @>
// also matches nested containment, so it only narrows the rows via the GIN
// index and this check decides.
func hasElement(expr, cond string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE '[]'::jsonb END) AS e(v) WHERE e.v %s)",
		expr, expr, cond)
}

func (b *builder) columnFilter(col string, f document.Filter) (string, error) {
	cast := "::timestamptz[]"
	if col == "id" {
		cast = "::text[]"
	}

	switch f.Op {
	case document.OpEqual:
		return fmt.Sprintf("%s = %s", col, b.bind(columnValue(f.Value))), nil
	case document.OpNotEqual:
		return fmt.Sprintf("%s <> %s", col, b.bind(columnValue(f.Value))), nil
	case document.OpLess, document.OpLessEqual, document.OpGreater, document.OpGreaterEqual:
		return fmt.Sprintf("%s %s %s", col, orderingOps[f.Op], b.bind(columnValue(f.Value))), nil
	case document.OpIn, document.OpNotIn:
		arr, _ := f.Value.AsArray()
		list := make([]string, len(arr))
		for i, v := range arr {
			list[i] = columnText(v)
		}
		cond := fmt.Sprintf("%s = ANY(%s%s)", col, b.bind(pq.Array(list)), cast)
		if f.Op == document.OpNotIn {
			cond = "NOT (" + cond + ")"
		}
		return cond, nil
	}
	return "", fmt.Errorf("operator %q is not supported on %s", f.Op, col)
}

// columnValue converts a filter value for comparison with a native column.
func columnValue(v document.Value) interface{} {
	if t, ok := v.AsTime(); ok {
		return t
	}
	s, _ := v.AsString()
	return s
}

func columnText(v document.Value) string {
	if t, ok := v.AsTime(); ok {
		return t.Format(time.RFC3339Nano)
	}
	s, _ := v.AsString()
	return s
}

// order appends the ORDER BY clause and the cursor condition. Ties break by
// id in the same direction as the ordering.
func (b *builder) order(q document.Query) (string, error) {
	dir, cmp := "ASC", ">"
	if q.OrderBy != nil && q.OrderBy.Descending() {
		dir, cmp = "DESC", "<"
	}

	if q.OrderBy == nil {
		if q.After != nil {
			b.conditions = append(b.conditions, "id > "+b.bind(q.After.ID))
		}
		return " ORDER BY id ASC", nil
	}

	expr, column := b.field(q.OrderBy.Field)
	if !column {
		b.conditions = append(b.conditions, expr+" IS NOT NULL")
	}
	if q.After != nil {
		var after string
		if column {
			if q.OrderBy.Field == document.FieldID {
				after = b.bind(q.After.ID)
			} else {
				t, ok := q.After.Value.AsTime()
				if !ok {
					return "", fmt.Errorf("%w: expected a timestamp", document.ErrInvalidCursor)
				}
				after = b.bind(t)
			}
		} else {
			p, err := b.bindJSON(q.After.Value)
			if err != nil {
				return "", fmt.Errorf("%w: %v", document.ErrInvalidCursor, err)
			}
			after = p
		}
		b.conditions = append(b.conditions, fmt.Sprintf("(%s, id) %s (%s, %s)", expr, cmp, after, b.bind(q.After.ID)))
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", expr, dir, dir), nil
}

func (b *builder) whereClause() string {
	return " WHERE " + strings.Join(b.conditions, " AND ")
}

func buildSelect(collection string, q document.Query) (string, []interface{}, error) {
	b := newBuilder(collection)
	if err := b.where(q.Filters); err != nil {
		return "", nil, err
	}
	orderBy, err := b.order(q)
	if err != nil {
		return "", nil, err
	}

	query := "SELECT " + selectColumns + " FROM documents" + b.whereClause() + orderBy
	if q.Limit > 0 {
		query += " LIMIT " + b.bind(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + b.bind(q.Offset)
	}
	return query, b.args, nil
}

// buildCount counts the documents matching filters. With an ordering, the
// documents lacking the ordered field are left out, as in buildSelect.
func buildCount(collection string, filters []document.Filter, order *document.OrderBy) (string, []interface{}, error) {
	b := newBuilder(collection)
	if err := b.where(filters); err != nil {
		return "", nil, err
	}
	if order != nil {
		if expr, column := b.field(order.Field); !column {
			b.conditions = append(b.conditions, expr+" IS NOT NULL")
		}
	}
	return "SELECT COUNT(*) FROM documents" + b.whereClause(), b.args, nil
}
