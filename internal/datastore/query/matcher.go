// Package query evaluates filters and aggregation pipelines against
// in-memory documents.
package query

import (
	"strings"

	"github.com/fairground/go-services/internal/datastore"
)

// Field and logical operators understood by Match. Anything else that
// starts with "$" makes the filter fail closed.
const (
	OpNe     = "$ne"
	OpIn     = "$in"
	OpNin    = "$nin"
	OpExists = "$exists"
	OpOr     = "$or"
	OpAnd    = "$and"
)

// Match reports whether doc satisfies filter. An empty filter matches every document.
func Match(doc datastore.Document, filter datastore.Filter) bool {
	for key, cond := range filter {
		if strings.HasPrefix(key, "$") {
			if !matchLogical(doc, key, cond) {
				return false
			}
			continue
		}
		if !matchField(doc, key, cond) {
			return false
		}
	}
	return true
}

// Select returns the documents matching filter, preserving order.
func Select(docs []datastore.Document, filter datastore.Filter) []datastore.Document {
	out := make([]datastore.Document, 0, len(docs))
	for _, d := range docs {
		if Match(d, filter) {
			out = append(out, d)
		}
	}
	return out
}

func matchLogical(doc datastore.Document, op string, arg any) bool {
	subs, ok := SubFilters(arg)
	if !ok {
		return false
	}
	switch op {
	case OpOr:
		for _, f := range subs {
			if Match(doc, f) {
				return true
			}
		}
		return false
	case OpAnd:
		for _, f := range subs {
			if !Match(doc, f) {
				return false
			}
		}
		return true
	}
	return false
}

func matchField(doc datastore.Document, field string, cond any) bool {
	val, present := Lookup(doc, field)
	ops, isOps := OperatorObject(cond)
	if !isOps {
		return present && Equal(val, cond)
	}
	for op, arg := range ops {
		switch op {
		case OpNe:
			if present && Equal(val, arg) {
				return false
			}
		case OpIn:
			list, ok := asList(arg)
			if !ok || !present || !contains(list, val) {
				return false
			}
		case OpNin:
			list, ok := asList(arg)
			if !ok || (present && contains(list, val)) {
				return false
			}
		case OpExists:
			want, ok := arg.(bool)
			if !ok || present != want {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// OperatorObject returns cond as an operator map when it is a map holding at
// least one "$"-prefixed key. Plain maps are compared by equality instead.
func OperatorObject(cond any) (map[string]any, bool) {
	m, ok := asMap(cond)
	if !ok {
		return nil, false
	}
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return m, true
		}
	}
	return nil, false
}

// SubFilters converts the argument of $or / $and into filters.
func SubFilters(arg any) ([]datastore.Filter, bool) {
	if fs, ok := arg.([]datastore.Filter); ok {
		return fs, true
	}
	list, ok := asList(arg)
	if !ok {
		return nil, false
	}
	out := make([]datastore.Filter, 0, len(list))
	for _, item := range list {
		m, ok := asMap(item)
		if !ok {
			return nil, false
		}
		out = append(out, datastore.Filter(m))
	}
	return out, true
}

// List exposes the slice conversion used for $in / $nin arguments.
func List(v any) ([]any, bool) { return asList(v) }

func contains(list []any, v any) bool {
	for _, item := range list {
		if Equal(item, v) {
			return true
		}
	}
	return false
}
