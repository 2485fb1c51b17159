// Package document holds the schema-less document model shared by every
// storage backend: values, documents, filters, queries and cursors.
package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reserved field names. They are never stored inside Fields.
const (
	FieldID        = "__id__"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

var (
	ErrNoDocument      = errors.New("document not found")
	ErrAlreadyExists   = errors.New("document already exists")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidField    = errors.New("invalid field")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsReserved reports whether name addresses document metadata rather than a
// stored field.
func IsReserved(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// Fields is the stored content of a document.
type Fields map[string]Value

// Get resolves a dotted path through nested maps.
func (f Fields) Get(path string) (Value, bool) {
	if f == nil || path == "" {
		return Value{}, false
	}
	head, rest, nested := strings.Cut(path, ".")
	v, ok := f[head]
	if !ok {
		return Value{}, false
	}
	if !nested {
		return v, true
	}
	m, ok := v.AsMap()
	if !ok {
		return Value{}, false
	}
	return Fields(m).Get(rest)
}

// Clone deep-copies f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v.Clone()
	}
	return out
}

// Validate checks that every key can be written: keys must be non-empty,
// free of dots, not start with '$' and not be reserved.
func (f Fields) Validate() error {
	for k := range f {
		switch {
		case k == "":
			return fmt.Errorf("%w: empty field name", ErrInvalidField)
		case strings.Contains(k, "."):
			return fmt.Errorf("%w: %q contains a path separator", ErrInvalidField, k)
		case strings.HasPrefix(k, "$"):
			return fmt.Errorf("%w: %q starts with '$'", ErrInvalidField, k)
		case IsReserved(k):
			return fmt.Errorf("%w: %q is reserved", ErrInvalidField, k)
		}
	}
	return nil
}

// Split separates a patch into the fields to set and the names to remove.
func (f Fields) Split() (set Fields, remove []string) {
	set = make(Fields, len(f))
	for k, v := range f {
		if v.IsDelete() {
			remove = append(remove, k)
			continue
		}
		set[k] = v
	}
	return set, remove
}

// Merge applies patch on top of f and returns the result. f is not modified.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	if out == nil {
		out = Fields{}
	}
	for k, v := range patch {
		if v.IsDelete() {
			delete(out, k)
			continue
		}
		out[k] = v.Clone()
	}
	return out
}

// Document is a stored entity: an id, its fields and server-set timestamps.
type Document struct {
	ID         string
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// Get resolves a field path, including the reserved metadata fields.
func (d Document) Get(path string) (Value, bool) {
	switch path {
	case FieldID:
		return String(d.ID), true
	case FieldCreatedAt:
		return Timestamp(d.CreateTime), true
	case FieldUpdatedAt:
		return Timestamp(d.UpdateTime), true
	}
	return d.Fields.Get(path)
}

func (d Document) Clone() Document {
	d.Fields = d.Fields.Clone()
	return d
}
