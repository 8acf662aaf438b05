package store

import (
	"context"
	"errors"
	"reflect"
)

// ErrNotFound is returned by a Provider when the addressed document does not exist.
var ErrNotFound = errors.New("document not found")

// Path addresses a top-level collection or a subcollection under one parent document.
type Path struct {
	Parent   string
	ParentID string
	Name     string
}

func Collection(name string) Path {
	return Path{Name: name}
}

// Sub addresses <parent>/<parentID>/<name>.
func Sub(parent, parentID, name string) Path {
	return Path{Parent: parent, ParentID: parentID, Name: name}
}

func (p Path) String() string {
	if p.Parent == "" {
		return p.Name
	}
	return p.Parent + "/" + p.ParentID + "/" + p.Name
}

type Op string

const (
	OpEq Op = "=="
	OpIn Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Fields is a partial document for Merge. Keys may be dotted to address nested fields;
// a nil value removes the field.
type Fields map[string]any

// Provider is a document store keyed by id.
type Provider interface {
	// Get decodes the document into out, or returns ErrNotFound.
	Get(ctx context.Context, p Path, id string, out any) error
	// Set replaces the whole document, creating it if needed.
	Set(ctx context.Context, p Path, id string, doc any) error
	// Merge updates only the given fields, creating the document if needed.
	Merge(ctx context.Context, p Path, id string, fields Fields) error
	// Increment atomically adds delta to a numeric field of an existing document.
	Increment(ctx context.Context, p Path, id, field string, delta int) error
	// Query decodes matching documents into out, which must point to a slice.
	Query(ctx context.Context, p Path, q Query, out any) error
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
