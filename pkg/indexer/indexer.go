// Package indexer walks a collection's root directory, parses each
// file's YAML front matter, and upserts the result into the store. It
// isolates failures per file so one unreadable or malformed document
// never aborts a whole reindex.
package indexer

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/memoirhq/memoir/internal/observability"
	"github.com/memoirhq/memoir/internal/tracing"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// MemoirCollectionName is the fixed collection name the engine facade
// registers for the Memoir tree root. The indexer special-cases it to
// keep reserved front-matter keys intact across a reindex.
const MemoirCollectionName = "memoir"

// Result summarizes one reindex pass.
type Result struct {
	Indexed int
	Skipped int
	Failed  int
	Errors  []FileError
}

// FileError records a single file's indexing failure without aborting
// the walk.
type FileError struct {
	Path string
	Err  error
}

// Indexer walks collection roots and upserts documents into a Store.
type Indexer struct {
	store  *store.Store
	logger zerolog.Logger
}

// New creates an Indexer over the given store.
func New(st *store.Store, logger zerolog.Logger) *Indexer {
	return &Indexer{store: st, logger: logger}
}

// Reindex walks col.Root for files matching col.Glob, parses front
// matter, and upserts each one. After the walk it reconciles soft
// deletes for every previously-seen path that was not encountered this
// pass. incremental, when true, skips files whose mtime has not
// changed since the document's last recorded update — a best-effort
// optimization, not a correctness guarantee, since content hashing is
// still the authority on whether a body actually changed.
func (ix *Indexer) Reindex(ctx context.Context, col store.Collection, incremental bool) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "memoir.indexer", "indexer.reindex",
		attribute.String("collection", col.Name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, ix.logger)

	start := time.Now()
	defer func() { observability.RecordWatcherScan(time.Since(start)) }()

	var result Result
	seenPaths := make(map[string]bool)

	err := filepath.WalkDir(col.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !matchesGlob(col.Glob, d.Name()) {
			return nil
		}

		relPath, relErr := filepath.Rel(col.Root, path)
		if relErr != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)
		seenPaths[relPath] = true

		if incremental {
			existing, getErr := ix.store.Get(ctx, col.ID, relPath)
			if getErr == nil {
				info, statErr := d.Info()
				if statErr == nil && !info.ModTime().After(existing.UpdatedAt) {
					result.Skipped++
					return nil
				}
			}
		}

		if err := ix.indexFile(ctx, col, path, relPath); err != nil {
			logger.Warn().Err(err).Str("path", relPath).Msg("failed to index file")
			result.Failed++
			result.Errors = append(result.Errors, FileError{Path: relPath, Err: err})
			span.RecordError(err)
			return nil
		}
		result.Indexed++
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, stderrors.Wrap(err, stderrors.CodeIndexerIOFailure, "failed to walk collection root",
			stderrors.FieldCollection(col.Name), stderrors.FieldPath(col.Root))
	}

	pruned, err := ix.store.ReconcileSoftDeletes(ctx, col.ID, seenPaths)
	if err != nil {
		logger.Warn().Err(err).Msg("soft-delete reconciliation failed")
		span.RecordError(err)
	}

	logger.Info().
		Int("indexed", result.Indexed).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("reindex completed")

	return result, nil
}

func (ix *Indexer) indexFile(ctx context.Context, col store.Collection, fullPath, relPath string) error {
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeIndexerIOFailure, "failed to read file", stderrors.FieldPath(relPath))
	}

	frontmatter, body, err := ParseFrontMatter(string(raw))
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeIndexerParseInvalid, "failed to parse front matter", stderrors.FieldPath(relPath))
	}

	title := titleFromFrontmatter(frontmatter)
	if title == "" {
		title = fileStem(relPath)
	}

	// The memoir collection owns its reserved keys directly (memoir.Set
	// writes id/key/type/half_life_days/updated_at/created_at itself); a
	// reindex of a memoir-owned file must round-trip them unchanged, or
	// the next scheduled scan silently clobbers half-life decay and the
	// key/type fields memoir.Get relies on. Every other collection keeps
	// stripping them, since those keys are reserved for the indexer/memoir
	// layer's own bookkeeping, not caller-supplied metadata.
	extra := frontmatter
	if col.Name != MemoirCollectionName {
		extra = stripReservedKeys(frontmatter)
	}
	fmJSON, err := json.Marshal(extra)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeIndexerParseInvalid, "failed to marshal front matter", stderrors.FieldPath(relPath))
	}

	_, err = ix.store.Upsert(ctx, col.ID, relPath, title, body, fmJSON)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to upsert document", stderrors.FieldPath(relPath))
	}
	return nil
}

func titleFromFrontmatter(fm map[string]any) string {
	if v, ok := fm["title"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// reservedFrontmatterKeys are consumed by the indexer/memoir layer
// directly and excluded from the frontmatter blob stored alongside a
// document; everything else passes through untouched.
var reservedFrontmatterKeys = map[string]bool{
	"id": true, "key": true, "type": true, "title": true,
	"updated_at": true, "created_at": true, "half_life_days": true, "tags": true,
}

func stripReservedKeys(fm map[string]any) map[string]any {
	out := make(map[string]any, len(fm))
	for k, v := range fm {
		if reservedFrontmatterKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

func fileStem(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func matchesGlob(glob, name string) bool {
	if glob == "" {
		glob = "*.md"
	}
	ok, err := filepath.Match(strings.ToLower(glob), strings.ToLower(name))
	return err == nil && ok
}
