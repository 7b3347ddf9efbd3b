package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/pkg/logger"
	"github.com/fairground/go-services/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements the storage operations on a MongoDB database. Stored
// documents use an ObjectID _id which callers only ever see as the string id.
// Driver failures are logged and reported as "not found" / empty results.
type MongoRepo struct {
	db       *mongo.Database
	registry *Registry
	now      func() time.Time
	log      *logger.Logger
}

func NewMongoRepo(db *mongo.Database, registry *Registry) *MongoRepo {
	if registry == nil {
		registry = NewRegistry(DefaultSchemas()...)
	}
	return &MongoRepo{db: db, registry: registry, now: time.Now, log: logger.Named("storage.mongo")}
}

func (m *MongoRepo) fail(op, collection string, err error) {
	metrics.StorageFailures.WithLabelValues(m.Backend(), op).Inc()
	m.log.Warnf("%s %s: %v", op, collectionKey(collection), err)
}

func (m *MongoRepo) collection(ctx context.Context, op, name string) *mongo.Collection {
	col, err := m.registry.Collection(ctx, m.db, name)
	if err != nil {
		m.fail(op, name, err)
		return nil
	}
	return col
}

func (m *MongoRepo) Find(ctx context.Context, collection string, filter datastore.Filter) []datastore.Document {
	out := []datastore.Document{}
	col := m.collection(ctx, "find", collection)
	if col == nil {
		return out
	}
	q, err := translateFilter(filter)
	if err != nil {
		m.fail("find", collection, err)
		return out
	}
	cur, err := col.Find(ctx, q)
	if err != nil {
		m.fail("find", collection, err)
		return out
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		m.fail("find", collection, err)
		return out
	}
	for _, r := range raw {
		out = append(out, normalizeStored(r))
	}
	return out
}

func (m *MongoRepo) FindOne(ctx context.Context, collection string, filter datastore.Filter) datastore.Document {
	col := m.collection(ctx, "findOne", collection)
	if col == nil {
		return nil
	}
	q, err := translateFilter(filter)
	if err != nil {
		m.fail("findOne", collection, err)
		return nil
	}
	return m.decodeOne("findOne", collection, col.FindOne(ctx, q))
}

func (m *MongoRepo) FindByID(ctx context.Context, collection, id string) datastore.Document {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	col := m.collection(ctx, "findById", collection)
	if col == nil {
		return nil
	}
	return m.decodeOne("findById", collection, col.FindOne(ctx, bson.M{mongoIDField: oid}))
}

func (m *MongoRepo) decodeOne(op, collection string, res *mongo.SingleResult) datastore.Document {
	var raw bson.M
	if err := res.Decode(&raw); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			m.fail(op, collection, err)
		}
		return nil
	}
	return normalizeStored(raw)
}

func (m *MongoRepo) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *MongoRepo) Create(ctx context.Context, collection string, doc datastore.Document) datastore.Document {
	col := m.collection(ctx, "create", collection)
	if col == nil {
		return nil
	}
	d := withoutReserved(doc, datastore.FieldCreatedAt, datastore.FieldUpdatedAt)
	now := m.timestamp()
	oid := primitive.NewObjectID()
	d[mongoIDField] = oid
	d[datastore.FieldCreatedAt] = now
	d[datastore.FieldUpdatedAt] = now
	if _, err := col.InsertOne(ctx, map[string]any(d)); err != nil {
		m.fail("create", collection, err)
		return nil
	}
	delete(d, mongoIDField)
	d[datastore.FieldID] = oid.Hex()
	return d
}

func (m *MongoRepo) UpdateOne(ctx context.Context, collection string, filter datastore.Filter, patch datastore.Document) datastore.Document {
	q, err := translateFilter(filter)
	if err != nil {
		m.fail("updateOne", collection, err)
		return nil
	}
	return m.findAndSet(ctx, "updateOne", collection, q, patch)
}

func (m *MongoRepo) Update(ctx context.Context, collection, id string, patch datastore.Document) datastore.Document {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	return m.findAndSet(ctx, "update", collection, bson.M{mongoIDField: oid}, patch)
}

// findAndSet applies a shallow $set of patch to the first match and returns
// the updated document.
func (m *MongoRepo) findAndSet(ctx context.Context, op, collection string, q bson.M, patch datastore.Document) datastore.Document {
	col := m.collection(ctx, op, collection)
	if col == nil {
		return nil
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return m.decodeOne(op, collection, col.FindOneAndUpdate(ctx, q, m.setStage(patch), opts))
}

// setStage builds a single-stage update pipeline. Patch values are wrapped
// in $literal so strings such as "$x" are stored as given, and updatedAt
// moves to now or one millisecond past its stored value, whichever is later.
func (m *MongoRepo) setStage(patch datastore.Document) mongo.Pipeline {
	set := bson.M{}
	for k, v := range withoutReserved(patch, datastore.FieldCreatedAt, datastore.FieldUpdatedAt) {
		set[k] = bson.M{"$literal": v}
	}
	now := m.timestamp()
	set[datastore.FieldUpdatedAt] = bson.M{"$max": bson.A{
		now,
		bson.M{"$add": bson.A{"$" + datastore.FieldUpdatedAt, 1}},
	}}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (m *MongoRepo) DeleteOne(ctx context.Context, collection string, filter datastore.Filter) bool {
	col := m.collection(ctx, "deleteOne", collection)
	if col == nil {
		return false
	}
	q, err := translateFilter(filter)
	if err != nil {
		m.fail("deleteOne", collection, err)
		return false
	}
	res, err := col.DeleteOne(ctx, q)
	if err != nil {
		m.fail("deleteOne", collection, err)
		return false
	}
	return res.DeletedCount > 0
}

func (m *MongoRepo) DeleteMany(ctx context.Context, collection string, filter datastore.Filter) int64 {
	col := m.collection(ctx, "deleteMany", collection)
	if col == nil {
		return 0
	}
	q, err := translateFilter(filter)
	if err != nil {
		m.fail("deleteMany", collection, err)
		return 0
	}
	res, err := col.DeleteMany(ctx, q)
	if err != nil {
		m.fail("deleteMany", collection, err)
		return 0
	}
	return res.DeletedCount
}

func (m *MongoRepo) Aggregate(ctx context.Context, collection string, pipeline datastore.Pipeline) []datastore.Document {
	out := []datastore.Document{}
	col := m.collection(ctx, "aggregate", collection)
	if col == nil {
		return out
	}
	stages, grouped, err := translatePipeline(pipeline)
	if err != nil {
		m.fail("aggregate", collection, err)
		return out
	}
	cur, err := col.Aggregate(ctx, stages)
	if err != nil {
		m.fail("aggregate", collection, err)
		return out
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		m.fail("aggregate", collection, err)
		return out
	}
	for _, r := range raw {
		if grouped {
			out = append(out, normalizeGroup(r))
		} else {
			out = append(out, normalizeStored(r))
		}
	}
	return out
}

// Clear deletes every document of every collection but keeps the
// collections and their indexes.
func (m *MongoRepo) Clear(ctx context.Context) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		m.fail("clear", "*", err)
		return
	}
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		if _, err := m.db.Collection(name).DeleteMany(ctx, bson.D{}); err != nil {
			m.fail("clear", name, err)
		}
	}
	m.log.Warnf("all collections cleared (%d)", len(names))
}

func (m *MongoRepo) Collections(ctx context.Context) []string {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		m.fail("collections", "*", err)
		return []string{}
	}
	out := names[:0]
	for _, n := range names {
		if !strings.HasPrefix(n, "system.") {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MongoRepo) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

func (m *MongoRepo) Backend() string { return "mongo" }
