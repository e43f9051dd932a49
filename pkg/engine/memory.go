package engine

import (
	"context"

	"github.com/memoirhq/memoir/pkg/memoir"
)

// MemorySet creates or updates a Memoir entry keyed by a dotted path.
func (e *Engine) MemorySet(ctx context.Context, key, body string, meta map[string]any) (*memoir.Entry, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.Set(ctx, key, body, meta)
}

// MemoryGet reads a single Memoir entry.
func (e *Engine) MemoryGet(ctx context.Context, key string) (*memoir.Entry, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.Get(ctx, key)
}

// MemoryDelete removes a Memoir entry.
func (e *Engine) MemoryDelete(ctx context.Context, key string) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.memoir.Delete(ctx, key)
}

// MemoryList returns the flat key -> entry map of every memory.
func (e *Engine) MemoryList(ctx context.Context) (map[string]memoir.TreeEntry, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.List(ctx)
}

// MemoryListTree returns the nested tree rooted at prefix ("" for the root).
func (e *Engine) MemoryListTree(ctx context.Context, prefix string) ([]memoir.TreeNode, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.ListTree(ctx, prefix)
}

// MemoryTreeForPrompt renders the tree rooted at prefix as a Markdown
// outline suitable for embedding directly in a prompt.
func (e *Engine) MemoryTreeForPrompt(ctx context.Context, prefix string) (string, error) {
	if err := e.requireInitialized(); err != nil {
		return "", err
	}
	return e.memoir.TreeForPrompt(ctx, prefix)
}

// MemoriesByLevel returns every entry at exactly key depth n under prefix.
func (e *Engine) MemoriesByLevel(ctx context.Context, n int, prefix string) ([]memoir.Entry, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.MemoriesByLevel(ctx, n, prefix)
}

// MemorySimpleTree returns the tree rooted at prefix as plain nested maps.
func (e *Engine) MemorySimpleTree(ctx context.Context, prefix string) (map[string]any, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.SimpleTree(ctx, prefix)
}

// MemorySearch runs a hybrid search scoped to the memoir collection,
// with half-life decay applied to each hit's score.
func (e *Engine) MemorySearch(ctx context.Context, query string, opts memoir.SearchOptions) ([]memoir.Hit, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.Search(ctx, e.searcher, query, opts)
}

// DefineZone registers (or replaces) a memory zone at runtime.
func (e *Engine) DefineZone(z memoir.Zone) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	e.memoir.DefineZone(z)
	return nil
}

// ZoneStats reports item counts for every registered zone.
func (e *Engine) ZoneStats(ctx context.Context) ([]memoir.ZoneStat, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.memoir.ZoneStats(ctx)
}
