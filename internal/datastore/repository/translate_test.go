package repository

import (
	"testing"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func eqClauses(path string, v any) bson.M {
	return bson.M{"$and": []bson.M{
		{path: bson.M{"$exists": true}},
		{"$expr": bson.M{"$eq": bson.A{"$" + path, bson.M{"$literal": v}}}},
	}}
}

func TestTranslateFilter_EmptyMatchesAll(t *testing.T) {
	q, err := translateFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, q)
}

func TestTranslateFilter_Equality(t *testing.T) {
	q, err := translateFilter(datastore.Filter{"role": "child"})
	require.NoError(t, err)
	assert.Equal(t, eqClauses("role", "child"), q)
}

func TestTranslateFilter_IdentifierMapsToObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	q, err := translateFilter(datastore.Filter{"id": oid.Hex()})
	require.NoError(t, err)
	assert.Equal(t, eqClauses("_id", oid), q)

	// invalid hex stays a string and can never equal an ObjectID
	q, err = translateFilter(datastore.Filter{"id": "not-an-oid"})
	require.NoError(t, err)
	assert.Equal(t, eqClauses("_id", "not-an-oid"), q)
}

func TestTranslateFilter_Operators(t *testing.T) {
	q, err := translateFilter(datastore.Filter{"familyId": map[string]any{"$ne": "f1"}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"familyId": bson.M{"$exists": false}},
		bson.M{"$expr": bson.M{"$ne": bson.A{"$familyId", bson.M{"$literal": "f1"}}}},
	}}, q)

	q, err = translateFilter(datastore.Filter{"familyId": map[string]any{"$exists": true}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"familyId": bson.M{"$exists": true}}, q)

	q, err = translateFilter(datastore.Filter{"role": map[string]any{"$in": []string{"a", "b"}}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"role": bson.M{"$exists": true}},
		{"$expr": bson.M{"$in": bson.A{"$role", bson.M{"$literal": bson.A{"a", "b"}}}}},
	}}, q)

	q, err = translateFilter(datastore.Filter{"role": map[string]any{"$nin": []any{"a"}}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"role": bson.M{"$exists": false}},
		bson.M{"$nor": bson.A{bson.M{"$expr": bson.M{"$in": bson.A{"$role", bson.M{"$literal": bson.A{"a"}}}}}}},
	}}, q)
}

func TestTranslateFilter_Logical(t *testing.T) {
	q, err := translateFilter(datastore.Filter{"$or": []any{
		map[string]any{"a": map[string]any{"$exists": true}},
		map[string]any{"b": map[string]any{"$exists": false}},
	}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"a": bson.M{"$exists": true}},
		bson.M{"b": bson.M{"$exists": false}},
	}}, q)

	q, err = translateFilter(datastore.Filter{"$or": []any{}})
	require.NoError(t, err)
	assert.Equal(t, neverMatch, q)

	q, err = translateFilter(datastore.Filter{"$and": []any{}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, q)
}

func TestTranslateFilter_RejectsWhatTheMatcherRejects(t *testing.T) {
	for name, f := range map[string]datastore.Filter{
		"field operator":   {"age": map[string]any{"$gt": 3}},
		"logical operator": {"$where": "1"},
		"in without array": {"age": map[string]any{"$in": 3}},
		"exists non-bool":  {"age": map[string]any{"$exists": 1}},
		"or not a list":    {"$or": map[string]any{"a": 1}},
		"nested unknown":   {"$or": []any{map[string]any{"a": map[string]any{"$size": 1}}}},
	} {
		_, err := translateFilter(f)
		assert.Error(t, err, name)
	}
	_, err := translateFilter(datastore.Filter{"age": map[string]any{"$gt": 3}})
	assert.ErrorIs(t, err, errUnsupportedOperator)
}

func TestTranslatePipeline(t *testing.T) {
	stages, grouped, err := translatePipeline(datastore.Pipeline{
		datastore.Match(datastore.Filter{"kind": map[string]any{"$exists": true}}),
		datastore.Group("userId", map[string]string{"total": "points"}),
		datastore.Sort(datastore.Desc("total")),
		datastore.Limit(2),
	})
	require.NoError(t, err)
	assert.True(t, grouped)
	assert.Equal(t, bson.A{
		bson.M{"$match": bson.M{"kind": bson.M{"$exists": true}}},
		bson.M{"$group": bson.D{{Key: "_id", Value: "$userId"}, {Key: "total", Value: bson.M{"$sum": "$points"}}}},
		bson.M{"$sort": bson.D{{Key: "total", Value: -1}}},
		bson.M{"$limit": 2},
	}, stages)
}

func TestTranslatePipeline_IdentifierHandling(t *testing.T) {
	stages, grouped, err := translatePipeline(datastore.Pipeline{
		datastore.Sort(datastore.Asc("id")),
		datastore.Group("", map[string]string{"n": "qty"}),
		datastore.Match(datastore.Filter{"id": map[string]any{"$exists": false}}),
		datastore.Sort(),
		datastore.Limit(0),
		{Kind: "unwind"},
	})
	require.NoError(t, err)
	assert.True(t, grouped)
	assert.Equal(t, bson.A{
		bson.M{"$sort": bson.D{{Key: "_id", Value: 1}}},
		bson.M{"$group": bson.D{{Key: "_id", Value: nil}, {Key: "n", Value: bson.M{"$sum": "$qty"}}}},
		// after grouping "id" is a plain output field
		bson.M{"$match": bson.M{"id": bson.M{"$exists": false}}},
		bson.M{"$match": neverMatch},
	}, stages)

	stages, grouped, err = translatePipeline(nil)
	require.NoError(t, err)
	assert.False(t, grouped)
	assert.Equal(t, bson.A{}, stages)

	_, _, err = translatePipeline(datastore.Pipeline{datastore.Match(datastore.Filter{"$nor": []any{}})})
	assert.ErrorIs(t, err, errUnsupportedOperator)
}
