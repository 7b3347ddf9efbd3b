package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const mongoIDField = "_id"

var errUnsupportedOperator = errors.New("unsupported filter operator")

// neverMatch selects nothing: every stored and grouped document has an _id.
var neverMatch = bson.M{mongoIDField: bson.M{"$exists": false}}

// translateFilter turns a Filter over stored documents into a MongoDB query
// that agrees with query.Match. Equality, $ne, $in and $nin go through $expr
// so that arrays are compared whole and a missing field never equals null.
func translateFilter(f datastore.Filter) (bson.M, error) {
	return translator{storedIDs: true}.filter(f)
}

// translator maps the public "id" field onto _id when storedIDs is set. Group
// output documents are addressed by their literal field names instead.
type translator struct {
	storedIDs bool
}

func (t translator) filter(f datastore.Filter) (bson.M, error) {
	var clauses []bson.M
	for key, cond := range f {
		if strings.HasPrefix(key, "$") {
			c, err := t.logical(key, cond)
			if err != nil {
				return nil, err
			}
			if c != nil {
				clauses = append(clauses, c)
			}
			continue
		}
		cs, err := t.field(key, cond)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, cs...)
	}
	switch len(clauses) {
	case 0:
		return bson.M{}, nil
	case 1:
		return clauses[0], nil
	}
	return bson.M{"$and": clauses}, nil
}

func (t translator) logical(op string, arg any) (bson.M, error) {
	if op != query.OpOr && op != query.OpAnd {
		return nil, fmt.Errorf("%w: %s", errUnsupportedOperator, op)
	}
	subs, ok := query.SubFilters(arg)
	if !ok {
		return nil, fmt.Errorf("%s expects a list of filters", op)
	}
	if len(subs) == 0 {
		if op == query.OpOr {
			return neverMatch, nil
		}
		return nil, nil
	}
	out := make(bson.A, 0, len(subs))
	for _, s := range subs {
		q, err := t.filter(s)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return bson.M{op: out}, nil
}

func (t translator) field(field string, cond any) ([]bson.M, error) {
	path := t.path(field)
	ops, isOps := query.OperatorObject(cond)
	if !isOps {
		return []bson.M{exists(path, true), expr("$eq", path, t.value(field, cond))}, nil
	}
	var out []bson.M
	for op, arg := range ops {
		switch op {
		case query.OpNe:
			out = append(out, either(exists(path, false), expr("$ne", path, t.value(field, arg))))
		case query.OpIn, query.OpNin:
			list, ok := query.List(arg)
			if !ok {
				return nil, fmt.Errorf("%s on %q expects an array", op, field)
			}
			vals := make(bson.A, 0, len(list))
			for _, v := range list {
				vals = append(vals, t.value(field, v))
			}
			in := bson.M{"$expr": bson.M{"$in": bson.A{"$" + path, bson.M{"$literal": vals}}}}
			if op == query.OpIn {
				out = append(out, exists(path, true), in)
			} else {
				out = append(out, either(exists(path, false), bson.M{"$nor": bson.A{in}}))
			}
		case query.OpExists:
			want, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("$exists on %q expects a boolean", field)
			}
			out = append(out, exists(path, want))
		default:
			return nil, fmt.Errorf("%w: %s", errUnsupportedOperator, op)
		}
	}
	return out, nil
}

func (t translator) path(field string) string {
	if t.storedIDs && field == datastore.FieldID {
		return mongoIDField
	}
	return field
}

// value converts identifier strings to ObjectIDs. Strings that are not valid
// ObjectIDs stay strings and so never equal a stored _id.
func (t translator) value(field string, v any) any {
	if !t.storedIDs || field != datastore.FieldID {
		return v
	}
	if s, ok := v.(string); ok {
		if oid, err := primitive.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return v
}

func exists(path string, want bool) bson.M {
	return bson.M{path: bson.M{"$exists": want}}
}

func expr(op, path string, v any) bson.M {
	return bson.M{"$expr": bson.M{op: bson.A{"$" + path, bson.M{"$literal": v}}}}
}

func either(a, b bson.M) bson.M {
	return bson.M{"$or": bson.A{a, b}}
}

// translatePipeline builds the native pipeline. grouped reports whether the
// output carries group documents rather than stored documents.
func translatePipeline(p datastore.Pipeline) (stages bson.A, grouped bool, err error) {
	stages = bson.A{}
	for _, st := range p {
		t := translator{storedIDs: !grouped}
		switch st.Kind {
		case datastore.StageMatch:
			q, err := t.filter(st.Match)
			if err != nil {
				return nil, false, err
			}
			stages = append(stages, bson.M{"$match": q})
		case datastore.StageGroup:
			var key any
			if st.Group.By != "" {
				key = "$" + t.path(st.Group.By)
			}
			g := bson.D{{Key: mongoIDField, Value: key}}
			for out, src := range st.Group.Sums {
				g = append(g, bson.E{Key: out, Value: bson.M{"$sum": "$" + t.path(src)}})
			}
			stages = append(stages, bson.M{"$group": g})
			grouped = true
		case datastore.StageSort:
			if len(st.Sort) == 0 {
				continue
			}
			keys := bson.D{}
			for _, k := range st.Sort {
				dir := 1
				if k.Direction < 0 {
					dir = -1
				}
				keys = append(keys, bson.E{Key: t.path(k.Field), Value: dir})
			}
			stages = append(stages, bson.M{"$sort": keys})
		case datastore.StageLimit:
			if st.Limit <= 0 {
				stages = append(stages, bson.M{"$match": neverMatch})
				continue
			}
			stages = append(stages, bson.M{"$limit": st.Limit})
		}
	}
	return stages, grouped, nil
}
