package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("find normalizes documents", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fairground.members", mtest.FirstBatch,
			bson.D{{Key: "_id", Value: oid}, {Key: "familyId", Value: "f1"}, {Key: "age", Value: int32(9)}}))

		out := repo.Find(ctx, "members", datastore.Filter{"familyId": "f1"})
		require.Len(mt, out, 1)
		assert.Equal(mt, datastore.Document{"id": oid.Hex(), "familyId": "f1", "age": int64(9)}, out[0])
	})

	mt.Run("findOne returns nil when nothing matches", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fairground.members", mtest.FirstBatch))
		assert.Nil(mt, repo.FindOne(ctx, "members", datastore.Filter{"familyId": "nope"}))
	})

	mt.Run("findById with a malformed id never reaches the server", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		assert.Nil(mt, repo.FindByID(ctx, "members", "not-hex"))
		assert.Nil(mt, repo.Update(ctx, "members", "not-hex", datastore.Document{"a": 1}))
	})

	mt.Run("unsupported operators fail closed without a round trip", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		assert.Empty(mt, repo.Find(ctx, "members", datastore.Filter{"age": map[string]any{"$gt": 1}}))
		assert.Nil(mt, repo.FindOne(ctx, "members", datastore.Filter{"$where": "1"}))
		assert.False(mt, repo.DeleteOne(ctx, "members", datastore.Filter{"$where": "1"}))
		assert.Zero(mt, repo.DeleteMany(ctx, "members", datastore.Filter{"$where": "1"}))
	})

	mt.Run("create assigns identifier and timestamps", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		t0 := time.Date(2024, 7, 1, 9, 30, 0, 999999, time.UTC)
		repo.now = func() time.Time { return t0 }
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		created := repo.Create(ctx, "stalls", datastore.Document{"id": "mine", "name": "tombola"})
		require.NotNil(mt, created)
		_, err := primitive.ObjectIDFromHex(created.ID())
		require.NoError(mt, err)
		assert.Equal(mt, "tombola", created["name"])
		assert.Equal(mt, t0.Truncate(time.Millisecond), created["createdAt"])
		assert.Equal(mt, created["createdAt"], created["updatedAt"])
		assert.NotContains(mt, created, "_id")
	})

	mt.Run("backend failures become empty results", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		before := testutil.ToFloat64(metrics.StorageFailures.WithLabelValues("mongo", "create"))
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11000, Name: "DuplicateKey", Message: "dup"}))
		assert.Nil(mt, repo.Create(ctx, "stalls", datastore.Document{"name": "x"}))
		assert.Equal(mt, before+1, testutil.ToFloat64(metrics.StorageFailures.WithLabelValues("mongo", "create")))

		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"}))
		assert.Zero(mt, repo.DeleteMany(ctx, "stalls", nil))

		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"}))
		assert.NotNil(mt, repo.Aggregate(ctx, "stalls", nil))
	})

	mt.Run("updateOne returns the document after the update", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: oid}, {Key: "name", Value: "tombola"}, {Key: "open", Value: true},
		}}))
		got := repo.UpdateOne(ctx, "stalls", datastore.Filter{"name": "tombola"}, datastore.Document{"open": true})
		require.NotNil(mt, got)
		assert.Equal(mt, oid.Hex(), got.ID())
		assert.Equal(mt, true, got["open"])

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))
		assert.Nil(mt, repo.Update(ctx, "stalls", oid.Hex(), datastore.Document{"open": false}))
	})

	mt.Run("updates never leave updatedAt behind the stored value", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		t0 := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
		repo.now = func() time.Time { return t0 }
		oid := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: oid}, {Key: "note", Value: "$price"},
		}}))
		require.NotNil(mt, repo.Update(ctx, "stalls", oid.Hex(), datastore.Document{"note": "$price", "updatedAt": time.Time{}}))

		cmd := mt.GetStartedEvent().Command
		stages, ok := cmd.Lookup("update").ArrayOK()
		require.True(mt, ok, "update must be sent as a pipeline")
		set := stages.Index(0).Value().Document().Lookup("$set").Document()

		assert.Equal(mt, "$price", set.Lookup("note", "$literal").StringValue())
		bounds := set.Lookup("updatedAt", "$max").Array()
		assert.Equal(mt, t0.UnixMilli(), bounds.Index(0).Value().DateTime())
		add := bounds.Index(1).Value().Document().Lookup("$add").Array()
		assert.Equal(mt, "$updatedAt", add.Index(0).Value().StringValue())
		assert.Equal(mt, int32(1), add.Index(1).Value().Int32())
	})

	mt.Run("delete counts", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(3)}))
		assert.Equal(mt, int64(3), repo.DeleteMany(ctx, "children", datastore.Filter{"parentId": "p"}))

		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(0)}))
		assert.False(mt, repo.DeleteOne(ctx, "children", datastore.Filter{"parentId": "p"}))
	})

	mt.Run("aggregate keeps group keys", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fairground.transactions", mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "b"}, {Key: "total", Value: int32(5)}},
			bson.D{{Key: "_id", Value: "a"}, {Key: "total", Value: int32(4)}},
		))
		out := repo.Aggregate(ctx, "transactions", datastore.Pipeline{
			datastore.Group("userId", map[string]string{"total": "points"}),
			datastore.Sort(datastore.Desc("total")),
		})
		assert.Equal(mt, []datastore.Document{
			{"_id": "b", "total": int64(5)},
			{"_id": "a", "total": int64(4)},
		}, out)
	})

	mt.Run("known schemas are provisioned once", func(mt *mtest.T) {
		reg := NewRegistry(Schema{Name: "Transactions", Indexes: []mongo.IndexModel{index("userId")}})
		repo := NewMongoRepo(mt.DB, reg)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			mtest.CreateCursorResponse(0, "fairground.transactions", mtest.FirstBatch, bson.D{{Key: "_id", Value: primitive.NewObjectID()}}),
		)
		assert.Len(mt, repo.Find(ctx, "transactions", nil), 1)

		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fairground.transactions", mtest.FirstBatch, bson.D{{Key: "_id", Value: primitive.NewObjectID()}}))
		assert.Len(mt, repo.Find(ctx, "TRANSACTIONS", nil), 1)
		assert.Len(mt, reg.Schema("transactions").Indexes, 1)
		assert.Empty(mt, reg.Schema("raffles").Indexes)
	})

	mt.Run("collections skips system namespaces", func(mt *mtest.T) {
		repo := NewMongoRepo(mt.DB, NewRegistry())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "fairground.$cmd.listCollections", mtest.FirstBatch,
			bson.D{{Key: "name", Value: "stalls"}, {Key: "type", Value: "collection"}},
			bson.D{{Key: "name", Value: "system.views"}, {Key: "type", Value: "collection"}},
			bson.D{{Key: "name", Value: "families"}, {Key: "type", Value: "collection"}},
		))
		assert.Equal(mt, []string{"families", "stalls"}, repo.Collections(ctx))
		assert.Equal(mt, "mongo", repo.Backend())
	})
}
