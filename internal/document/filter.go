package document

import (
	"fmt"
	"strings"
)

type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessEqual        Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterEqual     Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// MaxDisjunction caps the number of values in an in, not-in or
// array-contains-any filter.
const MaxDisjunction = 30

var operators = map[Operator]struct{}{
	OpEqual:            {},
	OpNotEqual:         {},
	OpLess:             {},
	OpLessEqual:        {},
	OpGreater:          {},
	OpGreaterEqual:     {},
	OpIn:               {},
	OpNotIn:            {},
	OpArrayContains:    {},
	OpArrayContainsAny: {},
}

// ParseOperator validates an operator given as text.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.TrimSpace(s))
	if _, ok := operators[op]; !ok {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, s)
	}
	return op, nil
}

// IsOrdering reports whether op is one of < <= > >=.
func (op Operator) IsOrdering() bool {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// TakesList reports whether op expects an array of candidate values.
func (op Operator) TakesList() bool {
	switch op {
	case OpIn, OpNotIn, OpArrayContainsAny:
		return true
	}
	return false
}

// Filter restricts a query to documents whose field satisfies Op against
// Value. Filters in a query are AND-combined.
type Filter struct {
	Field string
	Op    Operator
	Value Value

	err error
}

// Where builds a filter from a plain Go value. Conversion errors surface from
// Validate.
func Where(field string, op Operator, value any) Filter {
	v, err := FromGo(value)
	return Filter{Field: field, Op: op, Value: v, err: err}
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %s", f.Field, f.Op, f.Value)
}

func (f Filter) Validate() error {
	if f.err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidFilter, f.Field, f.err)
	}
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidFilter)
	}
	if _, ok := operators[f.Op]; !ok {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
	}
	if f.Value.IsDelete() {
		return fmt.Errorf("%w: field %q: delete marker is not a filter value", ErrInvalidFilter, f.Field)
	}

	candidates := []Value{f.Value}
	if f.Op.TakesList() {
		arr, ok := f.Value.AsArray()
		if !ok || len(arr) == 0 {
			return fmt.Errorf("%w: %s on %q needs a non-empty array", ErrInvalidFilter, f.Op, f.Field)
		}
		if len(arr) > MaxDisjunction {
			return fmt.Errorf("%w: %s on %q takes at most %d values", ErrInvalidFilter, f.Op, f.Field, MaxDisjunction)
		}
		candidates = arr
	}

	if IsReserved(f.Field) {
		if f.Op == OpArrayContains || f.Op == OpArrayContainsAny {
			return fmt.Errorf("%w: %s is not supported on %q", ErrInvalidFilter, f.Op, f.Field)
		}
		want := KindTimestamp
		if f.Field == FieldID {
			want = KindString
		}
		for _, c := range candidates {
			if c.Kind() != want {
				return fmt.Errorf("%w: %q compares against %s values, got %s", ErrInvalidFilter, f.Field, want, c.Kind())
			}
		}
	}
	return nil
}

// ValidateFilters validates every filter in fs.
func ValidateFilters(fs []Filter) error {
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}
