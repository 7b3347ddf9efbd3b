// Package snapshot exports every collection of a Store as JSON objects.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/fairground/go-services/internal/datastore"
	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/fairground/go-services/pkg/logger"
)

// ObjectSink receives exported objects.
type ObjectSink interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Object is the JSON layout of one exported collection.
type Object struct {
	Collection string               `json:"collection"`
	Backend    string               `json:"backend"`
	ExportedAt time.Time            `json:"exportedAt"`
	Documents  []datastore.Document `json:"documents"`
}

// Result lists the keys written by Export, keyed by collection.
type Result struct {
	Prefix  string            `json:"prefix"`
	Objects map[string]string `json:"objects"`
	Count   map[string]int    `json:"count"`
}

// Export writes one object per collection under prefix/<timestamp>/. It stops
// at the first sink error; objects already written stay in place.
func Export(ctx context.Context, store service.Store, sink ObjectSink, prefix string) (*Result, error) {
	now := time.Now().UTC()
	dir := path.Join(prefix, now.Format("20060102T150405Z"))
	res := &Result{Prefix: dir, Objects: map[string]string{}, Count: map[string]int{}}

	for _, name := range store.Collections(ctx) {
		docs := store.Find(ctx, name, nil)
		b, err := json.Marshal(Object{Collection: name, Backend: store.Backend(), ExportedAt: now, Documents: docs})
		if err != nil {
			return res, fmt.Errorf("snapshot %s: %w", name, err)
		}
		key := path.Join(dir, name+".json")
		if err := sink.Put(ctx, key, bytes.NewReader(b), int64(len(b)), "application/json"); err != nil {
			return res, fmt.Errorf("snapshot %s: %w", name, err)
		}
		res.Objects[name] = key
		res.Count[name] = len(docs)
		logger.Infof("snapshot: wrote %d documents of %q to %s", len(docs), name, key)
	}
	return res, nil
}
