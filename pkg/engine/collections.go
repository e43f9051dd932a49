package engine

import (
	"context"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/indexer"
	"github.com/memoirhq/memoir/pkg/store"
)

// AddCollection registers (or upserts) a named document root.
func (e *Engine) AddCollection(ctx context.Context, name, path, glob string) (*store.Collection, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.collections.Add(ctx, name, path, glob)
}

// ListCollections returns every registered collection.
func (e *Engine) ListCollections(ctx context.Context) ([]store.Collection, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.collections.List(ctx)
}

// GetCollection looks up a collection by name.
func (e *Engine) GetCollection(ctx context.Context, name string) (*store.Collection, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.collections.Get(ctx, name)
}

// RemoveCollection deletes a collection and everything it owns.
func (e *Engine) RemoveCollection(ctx context.Context, name string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.collections.Remove(ctx, name)
}

// Reindex walks every registered collection's root and re-syncs the
// store. incremental skips files whose mtime hasn't advanced.
func (e *Engine) Reindex(ctx context.Context, incremental bool) ([]indexer.Result, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	cols, err := e.collections.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]indexer.Result, 0, len(cols))
	var firstErr error
	for _, col := range cols {
		result, err := e.indexer.Reindex(ctx, col, incremental)
		results = append(results, result)
		if err != nil && firstErr == nil {
			firstErr = stderrors.Wrap(err, stderrors.CodeEngineInternal, "reindex failed for collection")
		}
	}
	return results, firstErr
}

// Get returns a single document by collection name and path.
func (e *Engine) Get(ctx context.Context, collectionName, path string) (*store.Document, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	col, err := e.collections.Get(ctx, collectionName)
	if err != nil {
		return nil, err
	}
	return e.store.Get(ctx, col.ID, path)
}
