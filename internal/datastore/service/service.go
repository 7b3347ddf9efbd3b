// Package service is the storage facade: one Store handle, chosen once at
// startup, shared by every controller.
package service

import (
	"context"
	"fmt"

	"github.com/fairground/go-services/internal/config"
	"github.com/fairground/go-services/internal/database"
	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/repository"
	"github.com/fairground/go-services/pkg/logger"
)

// Store is the contract every backend satisfies. Operations never return
// errors: absence and backend failure both surface as nil, empty, false or 0.
type Store interface {
	Find(ctx context.Context, collection string, filter datastore.Filter) []datastore.Document
	FindOne(ctx context.Context, collection string, filter datastore.Filter) datastore.Document
	FindByID(ctx context.Context, collection, id string) datastore.Document
	Create(ctx context.Context, collection string, doc datastore.Document) datastore.Document
	UpdateOne(ctx context.Context, collection string, filter datastore.Filter, patch datastore.Document) datastore.Document
	Update(ctx context.Context, collection, id string, patch datastore.Document) datastore.Document
	DeleteOne(ctx context.Context, collection string, filter datastore.Filter) bool
	DeleteMany(ctx context.Context, collection string, filter datastore.Filter) int64
	Aggregate(ctx context.Context, collection string, pipeline datastore.Pipeline) []datastore.Document
	// Clear wipes every collection. Callers must gate it behind an explicit confirmation.
	Clear(ctx context.Context)

	Collections(ctx context.Context) []string
	Ping(ctx context.Context) error
	Backend() string
}

var (
	_ Store = (*repository.MemoryRepo)(nil)
	_ Store = (*repository.MongoRepo)(nil)
)

// CloseFunc releases whatever the backend holds open.
type CloseFunc func(context.Context) error

func noopClose(context.Context) error { return nil }

// New selects the backend named by cfg.Storage.Backend. A mongo backend that
// cannot connect is an error; there is no silent fallback to memory.
func New(ctx context.Context, cfg *config.Config) (Store, CloseFunc, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory, "":
		logger.Infof("storage: using in-memory backend")
		return Instrument(repository.NewMemoryRepo()), noopClose, nil
	case config.BackendMongo:
		client, err := database.ConnectWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.ConnectAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		logger.Infof("storage: using MongoDB database %q", cfg.MongoDB.Database)
		repo := repository.NewMongoRepo(client.Database(cfg.MongoDB.Database), repository.NewRegistry(repository.DefaultSchemas()...))
		return Instrument(repo), client.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
}
