package document

import "sort"

// Matches evaluates the filter against doc. A field missing from doc never
// matches, whatever the operator.
func (f Filter) Matches(doc Document) bool {
	v, ok := doc.Get(f.Field)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEqual:
		return Equal(v, f.Value)
	case OpNotEqual:
		return !Equal(v, f.Value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		if !Comparable(v, f.Value) {
			return false
		}
		c := Compare(v, f.Value)
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		return containsEqual(f.listValues(), v)
	case OpNotIn:
		return !containsEqual(f.listValues(), v)
	case OpArrayContains:
		arr, ok := v.AsArray()
		return ok && containsEqual(arr, f.Value)
	case OpArrayContainsAny:
		arr, ok := v.AsArray()
		if !ok {
			return false
		}
		for _, want := range f.listValues() {
			if containsEqual(arr, want) {
				return true
			}
		}
	}
	return false
}

func (f Filter) listValues() []Value {
	arr, _ := f.Value.AsArray()
	return arr
}

func containsEqual(vs []Value, v Value) bool {
	for _, e := range vs {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

// MatchesAll reports whether doc satisfies every filter.
func MatchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !f.Matches(doc) {
			return false
		}
	}
	return true
}

// Matches reports whether doc belongs to the result set of q, ignoring
// limit, offset and cursor.
func (q Query) Matches(doc Document) bool {
	if !MatchesAll(doc, q.Filters) {
		return false
	}
	if q.OrderBy != nil {
		if _, ok := doc.Get(q.OrderBy.Field); !ok {
			return false
		}
	}
	return true
}

// compareAt orders two documents under the ordering, breaking ties by id in
// the same direction.
func compareAt(a, b Document, order *OrderBy) int {
	c := 0
	if order != nil {
		av, _ := a.Get(order.Field)
		bv, _ := b.Get(order.Field)
		c = Compare(av, bv)
	}
	if c == 0 {
		c = compareIDs(a.ID, b.ID)
	}
	if order != nil && order.Descending() {
		c = -c
	}
	return c
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// afterCursor reports whether doc sorts strictly after the cursor.
func afterCursor(doc Document, cur *Cursor, order *OrderBy) bool {
	c := 0
	if order != nil {
		v, _ := doc.Get(order.Field)
		c = Compare(v, cur.Value)
	}
	if c == 0 {
		c = compareIDs(doc.ID, cur.ID)
	}
	if order != nil && order.Descending() {
		c = -c
	}
	return c > 0
}

// Sort orders docs in place the way a query with the given ordering returns
// them.
func Sort(docs []Document, order *OrderBy) {
	sort.SliceStable(docs, func(i, j int) bool {
		return compareAt(docs[i], docs[j], order) < 0
	})
}

// Apply runs q over docs entirely in memory and returns the selected page.
// It is the reference semantics every backend follows.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	Sort(out, q.OrderBy)

	if q.After != nil {
		i := sort.Search(len(out), func(i int) bool {
			return afterCursor(out[i], q.After, q.OrderBy)
		})
		out = out[i:]
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return out[:0]
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
