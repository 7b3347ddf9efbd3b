package datastore

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Reserved document fields managed by the storage layer.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"

	// GroupKey holds the group value in aggregation output documents.
	GroupKey = "_id"
)

// Document is an open-ended record. Only FieldID is required; everything
// else is caller-defined and opaque to the storage layer.
type Document map[string]any

// ID returns the document identifier, or "" when unset.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Clone returns a deep copy of d. Nested maps and slices are copied so
// that neither side can reach the other's state.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int32, int64, float64, time.Time:
		return v
	case Document:
		return x.Clone()
	case map[string]any:
		return map[string]any(Document(x).Clone())
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = copyValue(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyReflect(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyReflect(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func copyReflect(v reflect.Value, elem reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface && v.IsNil() {
		return reflect.Zero(elem)
	}
	c := copyValue(v.Interface())
	if c == nil {
		return reflect.Zero(elem)
	}
	return reflect.ValueOf(c).Convert(elem)
}

// Filter selects documents. A bare value means equality; a map containing
// "$"-prefixed keys applies operators ($ne, $in, $nin, $exists). Top-level
// "$or" / "$and" take a list of sub-filters.
type Filter map[string]any

// Pipeline is an ordered list of aggregation stages.
type Pipeline []Stage

// StageKind identifies an aggregation stage.
type StageKind string

const (
	StageMatch StageKind = "match"
	StageGroup StageKind = "group"
	StageSort  StageKind = "sort"
	StageLimit StageKind = "limit"
)

// SortKey orders by Field; Direction is 1 (ascending) or -1 (descending).
type SortKey struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// GroupSpec partitions by By ("" means one implicit group) and sums
// source fields into output fields (output -> source).
type GroupSpec struct {
	By   string            `json:"by"`
	Sums map[string]string `json:"sums"`
}

// Stage is one pipeline step. Only the fields relevant to Kind are read.
type Stage struct {
	Kind  StageKind
	Match Filter
	Group GroupSpec
	Sort  []SortKey
	Limit int
}

func Match(f Filter) Stage { return Stage{Kind: StageMatch, Match: f} }

func Group(by string, sums map[string]string) Stage {
	return Stage{Kind: StageGroup, Group: GroupSpec{By: by, Sums: sums}}
}

func Sort(keys ...SortKey) Stage { return Stage{Kind: StageSort, Sort: keys} }

func Limit(n int) Stage { return Stage{Kind: StageLimit, Limit: n} }

// Asc and Desc build sort keys.
func Asc(field string) SortKey  { return SortKey{Field: field, Direction: 1} }
func Desc(field string) SortKey { return SortKey{Field: field, Direction: -1} }

// Decode copies a document into a typed struct using `doc` struct tags.
// Numeric fields are converted weakly so that int64 and float64 values from
// either backend land in int/float fields; time.Time values are assigned as is.
func Decode(doc Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "doc",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(doc))
}
