// Package store holds the SQLite-backed persistence layer: collections,
// documents, content-addressed bodies, the FTS5 lexical index and the
// vec0 vector index, plus the content-hash dedup and orphan GC rules
// that tie them together.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	sqlite_vec.Auto()
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file. It is created (along with its
	// parent directory) if it does not exist.
	Path string
	// Dimension is the embedding vector width. Zero disables the vector
	// index entirely; VectorAvailable reports false and VecSearch
	// always returns an empty result.
	Dimension int
	Logger    zerolog.Logger
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db              *sql.DB
	dim             int
	vectorAvailable bool
	logger          zerolog.Logger
}

// Open creates the data directory if needed, opens the database with
// WAL journaling and foreign keys on, creates the schema, and (if
// cfg.Dimension > 0) the vec0 vector table.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, stderrors.New(stderrors.CodeStoreInvalidInput, "database path is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to create data directory")
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_fts5=1&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to open database")
	}
	// WAL allows concurrent readers alongside a single writer, which the
	// searcher's parallel BM25+ANN fan-out depends on. A handful of open
	// connections is plenty for a local process; writes still serialize
	// through SQLite's own locking and withBusyRetry.
	db.SetMaxOpenConns(4)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to enable WAL mode")
	}

	s := &Store{db: db, dim: cfg.Dimension, logger: cfg.Logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to initialize schema")
	}

	if cfg.Dimension > 0 {
		if err := s.EnsureVectorTable(cfg.Dimension); err != nil {
			s.logger.Warn().Err(err).Msg("vector table unavailable, falling back to lexical-only search")
		}
	}

	s.logger.Info().Str("path", cfg.Path).Int("dimension", cfg.Dimension).Msg("store opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// VectorAvailable reports whether the vec0 vector table was created
// successfully. False means the sqlite-vec extension failed to load or
// no dimension was configured; VecSearch degrades to an empty result.
func (s *Store) VectorAvailable() bool {
	return s.vectorAvailable
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			root TEXT NOT NULL,
			glob TEXT NOT NULL DEFAULT '*.md',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_id TEXT NOT NULL UNIQUE,
			collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			frontmatter TEXT NOT NULL DEFAULT '{}',
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(collection_id, path)
		);
		CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
		CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);

		CREATE TABLE IF NOT EXISTS content (
			content_hash TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			ref_count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS content_vectors (
			content_hash TEXT NOT NULL,
			seq INTEGER NOT NULL,
			pos INTEGER NOT NULL,
			model_name TEXT NOT NULL,
			embedded_at INTEGER NOT NULL,
			embedding_raw BLOB NOT NULL,
			PRIMARY KEY (content_hash, seq)
		);

		-- unicode61 tokenizes on Unicode whitespace/punctuation boundaries,
		-- same as the teacher's FTS5 table. It does not split CJK text per
		-- codepoint the way a dedicated ICU tokenizer would; none of the
		-- example repos wire one in, so this module doesn't invent one either.
		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
			title,
			doc,
			content='documents',
			content_rowid='seq',
			tokenize='unicode61 remove_diacritics 2'
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureVectorTable (re)creates the vec0 virtual table for the given
// dimension. If a table already exists at a different dimension it is
// dropped and recreated; vectors are regenerable from content so this
// loses no lexical data. Failure (missing extension, unsupported
// build) leaves vectorAvailable false and is not fatal to the store.
func (s *Store) EnsureVectorTable(dim int) error {
	if dim <= 0 {
		s.vectorAvailable = false
		return stderrors.New(stderrors.CodeStoreInvalidInput, "vector dimension must be positive")
	}

	if s.vectorAvailable && s.dim == dim {
		return nil
	}

	if _, err := s.db.Exec("DROP TABLE IF EXISTS vectors"); err != nil {
		s.vectorAvailable = false
		return stderrors.Wrap(err, stderrors.CodeStoreVectorExtensionMissing, "failed to drop existing vector table")
	}

	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE vectors USING vec0(
		hash_seq TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	)`, dim)

	if _, err := s.db.Exec(ddl); err != nil {
		s.vectorAvailable = false
		return stderrors.Wrap(err, stderrors.CodeStoreVectorExtensionMissing, "failed to create vector table")
	}

	s.dim = dim
	s.vectorAvailable = true
	return nil
}

// withBusyRetry retries fn up to three times with 10ms/40ms/160ms
// backoff (plus jitter) when SQLite reports the database as busy or
// locked, per the store's busy-handling contract.
func withBusyRetry(ctx context.Context, logger zerolog.Logger, fn func() error) error {
	delays := []time.Duration{10 * time.Millisecond, 40 * time.Millisecond, 160 * time.Millisecond}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusyErr(err) || attempt >= len(delays) {
			return err
		}
		jitter := time.Duration(rand.Intn(10)) * time.Millisecond
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("database busy, retrying")
		select {
		case <-time.After(delays[attempt] + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
