package model

import (
	"fmt"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
)

// fieldReader pulls typed values out of a stored document. Missing and null
// fields read as zero values; the first kind mismatch is kept in err.
type fieldReader struct {
	fields document.Fields
	err    error
}

func newReader(f document.Fields) *fieldReader {
	return &fieldReader{fields: f}
}

func (r *fieldReader) lookup(key string) (document.Value, bool) {
	v, ok := r.fields[key]
	if !ok || v.IsNull() {
		return document.Value{}, false
	}
	return v, true
}

func (r *fieldReader) mismatch(key string, want string, v document.Value) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q: expected %s, got %s", key, want, v.Kind())
	}
}

func (r *fieldReader) str(key string) string {
	v, ok := r.lookup(key)
	if !ok {
		return ""
	}
	s, ok := v.AsString()
	if !ok {
		r.mismatch(key, "string", v)
	}
	return s
}

func (r *fieldReader) boolean(key string) bool {
	v, ok := r.lookup(key)
	if !ok {
		return false
	}
	b, ok := v.AsBool()
	if !ok {
		r.mismatch(key, "bool", v)
	}
	return b
}

func (r *fieldReader) float(key string) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return 0
	}
	f, ok := v.AsFloat()
	if !ok {
		r.mismatch(key, "number", v)
	}
	return f
}

func (r *fieldReader) integer(key string) int {
	v, ok := r.lookup(key)
	if !ok {
		return 0
	}
	if i, ok := v.AsInt(); ok {
		return int(i)
	}
	f, ok := v.AsFloat()
	if !ok {
		r.mismatch(key, "number", v)
	}
	return int(f)
}

func (r *fieldReader) time(key string) time.Time {
	v, ok := r.lookup(key)
	if !ok {
		return time.Time{}
	}
	t, ok := v.AsTime()
	if !ok {
		r.mismatch(key, "timestamp", v)
	}
	return t
}

func (r *fieldReader) timePtr(key string) *time.Time {
	if _, ok := r.lookup(key); !ok {
		return nil
	}
	t := r.time(key)
	return &t
}

func (r *fieldReader) strings(key string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return []string{}
	}
	arr, ok := v.AsArray()
	if !ok {
		r.mismatch(key, "array", v)
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.AsString()
		if !ok {
			r.mismatch(key, "array of strings", e)
			continue
		}
		out = append(out, s)
	}
	return out
}

// objects reads an array of maps, handing each one to fn as a reader.
func (r *fieldReader) objects(key string, fn func(*fieldReader)) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	arr, ok := v.AsArray()
	if !ok {
		r.mismatch(key, "array", v)
		return
	}
	for _, e := range arr {
		m, ok := e.AsMap()
		if !ok {
			r.mismatch(key, "array of maps", e)
			continue
		}
		sub := newReader(document.Fields(m))
		fn(sub)
		if sub.err != nil && r.err == nil {
			r.err = fmt.Errorf("field %q: %w", key, sub.err)
		}
	}
}

// object reads a nested map. It reports false when the field is absent.
func (r *fieldReader) object(key string, fn func(*fieldReader)) bool {
	v, ok := r.lookup(key)
	if !ok {
		return false
	}
	m, ok := v.AsMap()
	if !ok {
		r.mismatch(key, "map", v)
		return false
	}
	sub := newReader(document.Fields(m))
	fn(sub)
	if sub.err != nil && r.err == nil {
		r.err = fmt.Errorf("field %q: %w", key, sub.err)
	}
	return true
}

// setOptional writes s unless it is empty.
func setOptional(f document.Fields, key, s string) {
	if s != "" {
		f[key] = document.String(s)
	}
}

// setTime writes t unless it is nil.
func setTime(f document.Fields, key string, t *time.Time) {
	if t != nil {
		f[key] = document.Timestamp(*t)
	}
}

// optionalString patches a field: empty removes it.
func optionalString(s string) document.Value {
	if s == "" {
		return document.Delete()
	}
	return document.String(s)
}

// optionalTime patches a field: nil removes it.
func optionalTime(t *time.Time) document.Value {
	if t == nil {
		return document.Delete()
	}
	return document.Timestamp(*t)
}
