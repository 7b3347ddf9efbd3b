package repository

import (
	"github.com/fairground/go-services/internal/datastore"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// internal fields that never reach callers
var metadataFields = []string{"__v"}

// normalizeStored converts a raw stored document to the common contract:
// _id becomes the string field id and driver types become plain Go values.
func normalizeStored(raw bson.M) datastore.Document {
	out := normalizeGroup(raw)
	if id, ok := out[mongoIDField]; ok {
		delete(out, mongoIDField)
		out[datastore.FieldID] = id
	}
	return out
}

// normalizeGroup converts an aggregation output document; _id is kept as
// the group key.
func normalizeGroup(raw bson.M) datastore.Document {
	out := make(datastore.Document, len(raw))
	for k, v := range raw {
		out[k] = normalizeValue(v)
	}
	for _, f := range metadataFields {
		delete(out, f)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case int32:
		return int64(x)
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalizeValue(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = normalizeValue(e)
		}
		return m
	case primitive.A:
		l := make([]any, len(x))
		for i, e := range x {
			l[i] = normalizeValue(e)
		}
		return l
	case []any:
		l := make([]any, len(x))
		for i, e := range x {
			l[i] = normalizeValue(e)
		}
		return l
	}
	return v
}
