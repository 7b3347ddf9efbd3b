package repository

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Schema declares how a collection is provisioned in MongoDB. Documents stay
// unvalidated; a schema only carries the secondary indexes for its collection.
type Schema struct {
	Name    string
	Indexes []mongo.IndexModel
}

func index(fields ...string) mongo.IndexModel {
	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	return mongo.IndexModel{Keys: keys}
}

// DefaultSchemas lists the collections the platform models explicitly.
func DefaultSchemas() []Schema {
	return []Schema{
		{Name: "users", Indexes: []mongo.IndexModel{index("email"), index("familyId")}},
		{Name: "families", Indexes: []mongo.IndexModel{index("name")}},
		{Name: "members", Indexes: []mongo.IndexModel{index("familyId")}},
		{Name: "stalls", Indexes: []mongo.IndexModel{index("ownerId")}},
		{Name: "transactions", Indexes: []mongo.IndexModel{index("userId", "createdAt"), index("stallId")}},
		{Name: "qrcodes", Indexes: []mongo.IndexModel{index("code")}},
	}
}

// Registry maps collection names to schemas. Unknown names get a permissive
// schema on first use; provisioning happens once per name.
type Registry struct {
	mu          sync.Mutex
	schemas     map[string]Schema
	provisioned map[string]*mongo.Collection
}

func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{
		schemas:     make(map[string]Schema, len(schemas)),
		provisioned: make(map[string]*mongo.Collection),
	}
	for _, s := range schemas {
		s.Name = collectionKey(s.Name)
		r.schemas[s.Name] = s
	}
	return r
}

// Schema returns the declared schema for name or a permissive one.
func (r *Registry) Schema(name string) Schema {
	key := collectionKey(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schemas[key]; ok {
		return s
	}
	return Schema{Name: key}
}

// Collection returns the provisioned collection handle for name.
func (r *Registry) Collection(ctx context.Context, db *mongo.Database, name string) (*mongo.Collection, error) {
	key := collectionKey(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if col, ok := r.provisioned[key]; ok {
		return col, nil
	}
	s, ok := r.schemas[key]
	if !ok {
		s = Schema{Name: key}
		r.schemas[key] = s
	}
	col := db.Collection(s.Name)
	if len(s.Indexes) > 0 {
		if _, err := col.Indexes().CreateMany(ctx, s.Indexes); err != nil {
			return nil, fmt.Errorf("provision %s: %w", s.Name, err)
		}
	}
	r.provisioned[key] = col
	return col, nil
}
