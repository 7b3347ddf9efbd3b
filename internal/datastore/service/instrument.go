package service

import (
	"context"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/pkg/logger"
	"github.com/fairground/go-services/pkg/metrics"
)

var log = logger.Named("storage")

type instrumented struct {
	next    Store
	backend string
}

// Instrument wraps s so every operation is counted, timed and debug-logged.
func Instrument(s Store) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{next: s, backend: s.Backend()}
}

func (i *instrumented) observe(op, collection string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		metrics.StorageOperations.WithLabelValues(i.backend, op).Inc()
		metrics.StorageLatency.WithLabelValues(i.backend, op).Observe(elapsed.Seconds())
		log.Debugf("%s %s on %q took %s", i.backend, op, collection, elapsed)
	}
}

func (i *instrumented) Find(ctx context.Context, collection string, filter datastore.Filter) []datastore.Document {
	defer i.observe("find", collection)()
	return i.next.Find(ctx, collection, filter)
}

func (i *instrumented) FindOne(ctx context.Context, collection string, filter datastore.Filter) datastore.Document {
	defer i.observe("findOne", collection)()
	return i.next.FindOne(ctx, collection, filter)
}

func (i *instrumented) FindByID(ctx context.Context, collection, id string) datastore.Document {
	defer i.observe("findById", collection)()
	return i.next.FindByID(ctx, collection, id)
}

func (i *instrumented) Create(ctx context.Context, collection string, doc datastore.Document) datastore.Document {
	defer i.observe("create", collection)()
	return i.next.Create(ctx, collection, doc)
}

func (i *instrumented) UpdateOne(ctx context.Context, collection string, filter datastore.Filter, patch datastore.Document) datastore.Document {
	defer i.observe("updateOne", collection)()
	return i.next.UpdateOne(ctx, collection, filter, patch)
}

func (i *instrumented) Update(ctx context.Context, collection, id string, patch datastore.Document) datastore.Document {
	defer i.observe("update", collection)()
	return i.next.Update(ctx, collection, id, patch)
}

func (i *instrumented) DeleteOne(ctx context.Context, collection string, filter datastore.Filter) bool {
	defer i.observe("deleteOne", collection)()
	return i.next.DeleteOne(ctx, collection, filter)
}

func (i *instrumented) DeleteMany(ctx context.Context, collection string, filter datastore.Filter) int64 {
	defer i.observe("deleteMany", collection)()
	return i.next.DeleteMany(ctx, collection, filter)
}

func (i *instrumented) Aggregate(ctx context.Context, collection string, pipeline datastore.Pipeline) []datastore.Document {
	defer i.observe("aggregate", collection)()
	return i.next.Aggregate(ctx, collection, pipeline)
}

func (i *instrumented) Clear(ctx context.Context) {
	defer i.observe("clear", "*")()
	log.Warnf("clearing every collection on the %s backend", i.backend)
	i.next.Clear(ctx)
}

func (i *instrumented) Collections(ctx context.Context) []string { return i.next.Collections(ctx) }

func (i *instrumented) Ping(ctx context.Context) error { return i.next.Ping(ctx) }

func (i *instrumented) Backend() string { return i.backend }
