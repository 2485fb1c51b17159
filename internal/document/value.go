package document

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindTimestamp
	KindString
	KindArray
	KindMap
	kindDelete
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTimestamp:
		return "timestamp"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case kindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a single field value stored in a document. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	arr  []Value
	m    map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(vs ...Value) Value { return Value{kind: KindArray, arr: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Timestamp stores t in UTC truncated to microseconds, the precision of the
// storage backends.
func Timestamp(t time.Time) Value {
	return Value{kind: KindTimestamp, t: t.UTC().Truncate(time.Microsecond)}
}

// Delete marks a field for removal when used in an update.
func Delete() Value { return Value{kind: kindDelete} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsDelete() bool { return v.kind == kindDelete }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTimestamp }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// AsFloat returns the numeric value of an Int or Float.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// Interface converts v back into plain Go values: nil, bool, int64, float64,
// time.Time, string, []any and map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindTimestamp:
		return v.t
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			m[k] = e.Clone()
		}
		return Value{kind: KindMap, m: m}
	}
	return v
}

func (v Value) String() string {
	switch v.kind {
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case kindDelete:
		return "<delete>"
	}
	return fmt.Sprint(v.Interface())
}

// rank orders kinds for cross-kind comparison. Int and Float share a rank.
func (v Value) rank() int {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindTimestamp:
		return 3
	case KindString:
		return 4
	case KindArray:
		return 5
	case KindMap:
		return 6
	}
	return 7
}

// Comparable reports whether a and b belong to the same comparison class.
func Comparable(a, b Value) bool { return a.rank() == b.rank() }

// Equal reports whether a and b hold the same value. Int and Float values
// compare numerically.
func Equal(a, b Value) bool {
	return Comparable(a, b) && Compare(a, b) == 0
}

// Compare returns -1, 0 or 1. Values of different kinds order by kind:
// null < bool < number < timestamp < string < array < map.
func Compare(a, b Value) int {
	ra, rb := a.rank(), b.rank()
	if ra != rb {
		return cmpOrdered(ra, rb)
	}

	switch a.kind {
	case KindNull, kindDelete:
		return 0
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindInt, KindFloat:
		return compareNumbers(a, b)
	case KindTimestamp:
		return a.t.Compare(b.t)
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindArray:
		for i := 0; i < len(a.arr) && i < len(b.arr); i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return cmpOrdered(len(a.arr), len(b.arr))
	case KindMap:
		ak, bk := sortedKeys(a.m), sortedKeys(b.m)
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(a.m[ak[i]], b.m[bk[i]]); c != 0 {
				return c
			}
		}
		return cmpOrdered(len(ak), len(bk))
	}
	return 0
}

func compareNumbers(a, b Value) int {
	if a.kind == KindInt && b.kind == KindInt {
		return cmpOrdered(a.i, b.i)
	}
	af, _ := a.AsFloat()
	bf, _ := b.AsFloat()
	switch {
	case math.IsNaN(af) && math.IsNaN(bf):
		return 0
	case math.IsNaN(af):
		return -1
	case math.IsNaN(bf):
		return 1
	}
	return cmpOrdered(af, bf)
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromGo converts a Go value into a Value. Pointers are dereferenced (nil
// becomes null), named string/number types keep their underlying value, and
// slices and string-keyed maps are converted element by element.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Fields:
		return Map(map[string]Value(t)), nil
	case time.Time:
		return Timestamp(t), nil
	case *time.Time:
		if t == nil {
			return Null(), nil
		}
		return Timestamp(*t), nil
	case []byte:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromGo(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Array(), nil
		}
		arr := make([]Value, rv.Len())
		for i := range arr {
			e, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = e
		}
		return Array(arr...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := FromGo(iter.Value().Interface())
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			m[iter.Key().String()] = e
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// MustFromGo is FromGo for values known to be convertible.
func MustFromGo(x any) Value {
	v, err := FromGo(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Strings builds an array of string values.
func Strings(ss []string) Value {
	arr := make([]Value, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return Array(arr...)
}
