// Package memoir is a tree-structured memory facade over a dedicated
// collection: dotted keys map bijectively onto Markdown files with YAML
// front matter under a memory root, zones bound quotas and defaults per
// key prefix, and search results decay by age against each entry's
// half-life.
package memoir

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Entry is a single memory: its key, resolved path, title, body, and
// merged front matter.
type Entry struct {
	Key       string
	Path      string
	Title     string
	Body      string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Memoir manages memories stored as Markdown files under root, indexed
// through a dedicated collection so they are searchable the same way
// any other document is.
type Memoir struct {
	store  *store.Store
	col    store.Collection
	root   string
	zones  *zoneRegistry
	locks  *keyFutureLock
	logger zerolog.Logger
}

// New creates a Memoir backed by col, whose root is the memory root
// every key resolves under.
func New(st *store.Store, col store.Collection, logger zerolog.Logger) *Memoir {
	return &Memoir{
		store:  st,
		col:    col,
		root:   col.Root,
		zones:  newZoneRegistry(),
		locks:  newKeyFutureLock(),
		logger: logger,
	}
}

// DefineZone registers or replaces a zone.
func (m *Memoir) DefineZone(z Zone) {
	m.zones.define(z)
}

// ZoneStats reports every defined zone's current item count.
func (m *Memoir) ZoneStats(ctx context.Context) ([]ZoneStat, error) {
	zones := m.zones.list()
	stats := make([]ZoneStat, 0, len(zones))
	for _, z := range zones {
		count, err := m.countUnderPrefix(z.Prefix)
		if err != nil {
			return nil, err
		}
		stats = append(stats, ZoneStat{Zone: z, ItemCount: count})
	}
	return stats, nil
}

// Set writes key's body and metadata, merging front matter with what is
// already on disk and applying any matching zone's defaults and quotas.
// Writes to the same key are totally ordered: a concurrent Set or
// Delete on the same key waits for this one to finish before it starts.
func (m *Memoir) Set(ctx context.Context, key string, body string, meta map[string]any) (*Entry, error) {
	start := time.Now()
	defer func() { observability.RecordMemoirWrite(time.Since(start)) }()

	release := m.locks.acquire(key)
	defer release()

	path, err := resolvePath(m.root, key)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)
	isNewFile := os.IsNotExist(statErr)

	if zone, ok := m.zones.matchFor(key); ok {
		itemCount := 0
		if isNewFile && zone.MaxItems > 0 {
			itemCount, err = m.countUnderPrefix(zone.Prefix)
			if err != nil {
				return nil, err
			}
		}
		if err := enforce(ctx, zone, key, isNewFile, itemCount); err != nil {
			observability.RecordMemoirAudit(ctx, "memoir.write", key, "rejected", nil)
			return nil, err
		}
	}

	existing := map[string]any{}
	if !isNewFile {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			observability.RecordMemoirAudit(ctx, "memoir.write", key, "failure", nil)
			return nil, stderrors.Wrap(readErr, stderrors.CodeMemoirInvalidKey, "failed to read existing memory", stderrors.FieldKey(key))
		}
		fm, _, parseErr := splitFrontMatter(string(raw))
		if parseErr != nil {
			return nil, stderrors.Wrap(parseErr, stderrors.CodeMemoirInvalidKey, "failed to parse existing memory front matter", stderrors.FieldKey(key))
		}
		existing = fm
	}

	defaultType := "archival"
	if zone, ok := m.zones.matchFor(key); ok && zone.DefaultType != "" {
		defaultType = zone.DefaultType
	}

	merged := map[string]any{
		"id":   key,
		"key":  key,
		"type": defaultType,
	}
	mergeInto(merged, existing)
	mergeInto(merged, cleanMetadata(meta))

	if _, ok := merged["half_life_days"]; !ok {
		if zone, ok := m.zones.matchFor(key); ok && zone.DefaultHalfLifeDays > 0 {
			merged["half_life_days"] = zone.DefaultHalfLifeDays
		}
	}
	merged["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	title := titleFromMetadata(merged, key)

	if err := writeAtomic(path, merged, body); err != nil {
		return nil, err
	}

	relPath, err := relPathForKey(key)
	if err != nil {
		return nil, err
	}
	fmJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to marshal merged front matter", stderrors.FieldKey(key))
	}
	doc, err := m.store.Upsert(ctx, m.col.ID, relPath, title, body, fmJSON)
	if err != nil {
		observability.RecordMemoirAudit(ctx, "memoir.write", key, "failure", nil)
		return nil, err
	}
	observability.RecordMemoirAudit(ctx, "memoir.write", key, "success", nil)

	return &Entry{
		Key: key, Path: path, Title: title, Body: body, Metadata: merged,
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Get reads a single memory by key.
func (m *Memoir) Get(ctx context.Context, key string) (*Entry, error) {
	relPath, err := relPathForKey(key)
	if err != nil {
		return nil, err
	}
	doc, err := m.store.Get(ctx, m.col.ID, relPath)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeMemoirNotFound, "memory not found", stderrors.FieldKey(key))
	}

	meta := map[string]any{}
	if len(doc.Frontmatter) > 0 {
		_ = json.Unmarshal(doc.Frontmatter, &meta)
	}

	return &Entry{
		Key: key, Path: filepath.Join(m.root, filepath.FromSlash(relPath)),
		Title: doc.Title, Body: doc.Content, Metadata: meta,
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
	}, nil
}

// Delete removes a memory. It tries the standard dot-to-slash path
// first; if that file does not exist it falls back to treating trailing
// dots as literal filename characters, since a key's leaf segment can
// itself legitimately contain dots (e.g. a dated note). The first
// candidate that exists on disk wins.
func (m *Memoir) Delete(ctx context.Context, key string) error {
	release := m.locks.acquire(key)
	defer release()

	path, relPath, err := m.resolveForDelete(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		observability.RecordMemoirAudit(ctx, "memoir.delete", key, "failure", nil)
		return stderrors.Wrap(err, stderrors.CodeMemoirNotFound, "failed to delete memory file", stderrors.FieldKey(key))
	}

	if err := m.store.RemoveDocument(ctx, m.col.ID, relPath); err != nil {
		observability.RecordMemoirAudit(ctx, "memoir.delete", key, "failure", nil)
		return stderrors.Wrap(err, stderrors.CodeMemoirNotFound, "failed to remove memory from index", stderrors.FieldKey(key))
	}
	observability.RecordMemoirAudit(ctx, "memoir.delete", key, "success", nil)
	return nil
}

func (m *Memoir) resolveForDelete(key string) (path, relPath string, err error) {
	path, err = resolvePath(m.root, key)
	if err != nil {
		return "", "", err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		rel, relErr := relPathForKey(key)
		if relErr != nil {
			return "", "", relErr
		}
		return path, rel, nil
	}

	parts, segErr := segments(key)
	if segErr != nil {
		return "", "", segErr
	}

	for split := len(parts) - 1; split >= 1; split-- {
		dir := filepath.Join(m.root, filepath.Join(parts[:split]...))
		leaf := strings.Join(parts[split:], ".")

		entries, readErr := os.ReadDir(dir)
		if readErr != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			stem := strings.TrimSuffix(e.Name(), ".md")
			if stem == leaf || strings.HasPrefix(stem, leaf) || strings.Contains(stem, leaf) {
				candidate := filepath.Join(dir, e.Name())
				rel, relErr := filepath.Rel(m.root, candidate)
				if relErr != nil {
					continue
				}
				return candidate, filepath.ToSlash(rel), nil
			}
		}
	}

	return "", "", stderrors.New(stderrors.CodeMemoirNotFound, "memory not found", stderrors.FieldKey(key))
}

func (m *Memoir) countUnderPrefix(prefix string) (int, error) {
	dir := m.root
	if prefix != "" {
		parts, err := segments(prefix)
		if err != nil {
			return 0, err
		}
		dir = filepath.Join(m.root, filepath.Join(parts...))
	}

	count := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".md") {
			count++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to count memories under prefix", stderrors.FieldZone(prefix))
	}
	return count, nil
}

// splitFrontMatter is the same "---\n...\n---\n" convention the indexer
// parses, kept local to avoid a dependency on pkg/indexer for a single
// helper.
func splitFrontMatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return map[string]any{}, content, nil
	}
	rest := content[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return map[string]any{}, content, nil
	}
	var fm map[string]any
	if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
		return nil, "", err
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, rest[idx+len("\n---\n"):], nil
}

// mergeInto overlays src onto dst in place, skipping nil values so a
// caller can't use an explicit null to delete a previously-set field.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			continue
		}
		dst[k] = v
	}
}

// cleanMetadata strips undefined (nil) values from caller-supplied
// metadata before it takes part in the merge.
func cleanMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func titleFromMetadata(meta map[string]any, key string) string {
	if v, ok := meta["title"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	parts := strings.Split(key, ".")
	return parts[len(parts)-1]
}

func writeAtomic(path string, meta map[string]any, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to create memory directory", stderrors.FieldPath(path))
	}

	fmBytes, err := yaml.Marshal(meta)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to marshal front matter", stderrors.FieldPath(path))
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(fmBytes)
	sb.WriteString("---\n")
	sb.WriteString(body)

	tmp := path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to write memory", stderrors.FieldPath(path))
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to commit memory write", stderrors.FieldPath(path))
	}
	return nil
}

// keyFutureLock totally orders operations on the same key: a new
// operation on k registers a fresh completion signal and waits on
// whatever signal was previously registered for k, so operations never
// interleave and always apply in arrival order.
type keyFutureLock struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

func newKeyFutureLock() *keyFutureLock {
	return &keyFutureLock{inflight: make(map[string]chan struct{})}
}

func (l *keyFutureLock) acquire(key string) func() {
	l.mu.Lock()
	prev := l.inflight[key]
	done := make(chan struct{})
	l.inflight[key] = done
	l.mu.Unlock()

	if prev != nil {
		<-prev
	}

	return func() {
		close(done)
		l.mu.Lock()
		if l.inflight[key] == done {
			delete(l.inflight, key)
		}
		l.mu.Unlock()
	}
}
