// Package collections is a thin registry over pkg/store's collection
// rows: it resolves caller-supplied roots to absolute paths and
// asserts they exist before delegating to the store.
package collections

import (
	"context"
	"os"
	"path/filepath"

	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/store"
)

// Registry manages named collection roots backed by a store.Store.
type Registry struct {
	store *store.Store
}

// New creates a Registry over st.
func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Add resolves path to an absolute form, asserts it exists and is a
// directory, and registers it under name. Calling Add again with the
// same name upserts its root/glob (per pkg/store.AddCollection's
// add-is-upsert-by-name contract).
func (r *Registry) Add(ctx context.Context, name, path, glob string) (*store.Collection, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeCollectionsPathMissing, "failed to resolve collection path",
			stderrors.FieldCollection(name), stderrors.FieldPath(path))
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeCollectionsPathMissing, "collection root does not exist",
			stderrors.FieldCollection(name), stderrors.FieldPath(abs))
	}
	if !info.IsDir() {
		return nil, stderrors.New(stderrors.CodeCollectionsPathMissing, "collection root is not a directory",
			stderrors.FieldCollection(name), stderrors.FieldPath(abs))
	}

	col, err := r.store.AddCollection(ctx, name, abs, glob)
	if err != nil {
		return nil, err
	}
	observability.RecordCollectionAudit(ctx, "collection.add", name, map[string]interface{}{"path": abs})
	return col, nil
}

// List returns every registered collection, ordered by name.
func (r *Registry) List(ctx context.Context) ([]store.Collection, error) {
	return r.store.ListCollections(ctx)
}

// Get looks up a collection by name.
func (r *Registry) Get(ctx context.Context, name string) (*store.Collection, error) {
	return r.store.GetCollection(ctx, name)
}

// Remove deletes a collection and every document, content row, and
// vector that only it referenced.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := r.store.RemoveCollection(ctx, name); err != nil {
		return err
	}
	observability.RecordCollectionAudit(ctx, "collection.remove", name, nil)
	return nil
}
