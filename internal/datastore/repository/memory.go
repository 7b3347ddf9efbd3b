package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/query"
	"github.com/fairground/go-services/pkg/logger"
	"github.com/google/uuid"
)

// MemoryRepo keeps every collection in process memory. State is lost on
// restart. All operations run under one RWMutex, so each call (including the
// read-merge-write of UpdateOne) is atomic with respect to the others.
type MemoryRepo struct {
	mu          sync.RWMutex
	collections map[string]map[string]datastore.Document
	now         func() time.Time
	newID       func() string
	log         *logger.Logger
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		collections: make(map[string]map[string]datastore.Document),
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logger.Named("storage.memory"),
	}
}

// collectionKey normalizes collection names; they are case-insensitive.
func collectionKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// timestamp truncates to milliseconds, the resolution of the persistent backend.
func (m *MemoryRepo) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

// collection returns the named collection, creating it when create is set.
// Callers must hold the lock.
func (m *MemoryRepo) collection(name string, create bool) map[string]datastore.Document {
	key := collectionKey(name)
	c, ok := m.collections[key]
	if !ok && create {
		c = make(map[string]datastore.Document)
		m.collections[key] = c
	}
	return c
}

func (m *MemoryRepo) Find(_ context.Context, collection string, filter datastore.Filter) []datastore.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []datastore.Document{}
	for _, d := range m.collection(collection, false) {
		if query.Match(d, filter) {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (m *MemoryRepo) FindOne(_ context.Context, collection string, filter datastore.Filter) datastore.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d := m.firstMatch(collection, filter); d != nil {
		return d.Clone()
	}
	return nil
}

func (m *MemoryRepo) FindByID(_ context.Context, collection, id string) datastore.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.collection(collection, false)[id]; ok {
		return d.Clone()
	}
	return nil
}

// Create stores a copy of doc under a fresh identifier. Caller-supplied
// identifiers and timestamps are discarded.
func (m *MemoryRepo) Create(_ context.Context, collection string, doc datastore.Document) datastore.Document {
	d := withoutReserved(doc, datastore.FieldCreatedAt, datastore.FieldUpdatedAt)
	now := m.timestamp()
	d[datastore.FieldID] = m.newID()
	d[datastore.FieldCreatedAt] = now
	d[datastore.FieldUpdatedAt] = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection, true)[d.ID()] = d
	m.log.Debugf("created %s/%s", collectionKey(collection), d.ID())
	return d.Clone()
}

func (m *MemoryRepo) UpdateOne(_ context.Context, collection string, filter datastore.Filter, patch datastore.Document) datastore.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.firstMatch(collection, filter)
	if d == nil {
		return nil
	}
	return m.apply(d, patch)
}

func (m *MemoryRepo) Update(_ context.Context, collection, id string, patch datastore.Document) datastore.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.collection(collection, false)[id]
	if !ok {
		return nil
	}
	return m.apply(d, patch)
}

// apply shallow-merges patch into d and re-stamps updatedAt so that it
// strictly increases. Callers must hold the write lock.
func (m *MemoryRepo) apply(d, patch datastore.Document) datastore.Document {
	for k, v := range withoutReserved(patch, datastore.FieldCreatedAt, datastore.FieldUpdatedAt) {
		d[k] = v
	}
	now := m.timestamp()
	if prev, ok := d[datastore.FieldUpdatedAt].(time.Time); ok && !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	d[datastore.FieldUpdatedAt] = now
	return d.Clone()
}

// DeleteOne removes the first match of an unordered scan. Which document
// goes is unspecified when several match.
func (m *MemoryRepo) DeleteOne(_ context.Context, collection string, filter datastore.Filter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.firstMatch(collection, filter)
	if d == nil {
		return false
	}
	delete(m.collection(collection, false), d.ID())
	return true
}

func (m *MemoryRepo) DeleteMany(_ context.Context, collection string, filter datastore.Filter) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection, false)
	var n int64
	for id, d := range c {
		if query.Match(d, filter) {
			delete(c, id)
			n++
		}
	}
	return n
}

func (m *MemoryRepo) Aggregate(_ context.Context, collection string, pipeline datastore.Pipeline) []datastore.Document {
	m.mu.RLock()
	c := m.collection(collection, false)
	snapshot := make([]datastore.Document, 0, len(c))
	for _, d := range c {
		snapshot = append(snapshot, d.Clone())
	}
	m.mu.RUnlock()
	return query.Run(snapshot, pipeline)
}

func (m *MemoryRepo) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]map[string]datastore.Document)
	m.log.Warnf("all collections cleared")
}

// Collections lists the names of collections holding at least one document.
func (m *MemoryRepo) Collections(_ context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name, docs := range m.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *MemoryRepo) Ping(context.Context) error { return nil }

func (m *MemoryRepo) Backend() string { return "memory" }

func (m *MemoryRepo) firstMatch(collection string, filter datastore.Filter) datastore.Document {
	for _, d := range m.collection(collection, false) {
		if query.Match(d, filter) {
			return d
		}
	}
	return nil
}

// withoutReserved copies doc minus identifier fields and any extra keys.
func withoutReserved(doc datastore.Document, extra ...string) datastore.Document {
	out := doc.Clone()
	if out == nil {
		out = datastore.Document{}
	}
	delete(out, datastore.FieldID)
	delete(out, mongoIDField)
	for _, k := range extra {
		delete(out, k)
	}
	return out
}
