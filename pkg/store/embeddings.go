package store

import (
	"context"
	"database/sql"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/ids"
)

// EmbeddingStatus summarizes embedding coverage across active content.
type EmbeddingStatus struct {
	TotalContent   int
	EmbeddedCount  int
	PendingCount   int
	ModelName      string
	VectorAvailable bool
}

// HashesForEmbedding returns the content hashes of every active
// document that has no corresponding row in content_vectors — the
// backlog the embedder's auto-embed loop works through.
func (s *Store) HashesForEmbedding(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.content_hash
		FROM documents d
		LEFT JOIN content_vectors cv ON cv.content_hash = d.content_hash
		WHERE d.active = 1 AND cv.content_hash IS NULL
	`)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to list hashes pending embedding")
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan pending hash")
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// InsertEmbedding stores a vector for a content hash at the given chunk
// sequence and position. Only seq=0, pos=0 is written by the current
// single-vector-per-document policy; the schema retains headroom for
// multi-chunk documents.
func (s *Store) InsertEmbedding(ctx context.Context, contentHash string, seq, pos int, vector []float32, modelName string) error {
	if !s.vectorAvailable {
		return stderrors.New(stderrors.CodeStoreVectorExtensionMissing, "vector table unavailable")
	}
	if len(vector) != s.dim {
		return stderrors.New(stderrors.CodeEmbedderDimensionMismatch, "embedding dimension does not match store dimension",
			stderrors.Field("got", len(vector)), stderrors.Field("want", s.dim))
	}

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreInvalidInput, "failed to serialize embedding")
	}

	key := ids.VecKey(contentHash, seq)
	now := time.Now().Unix()
	raw := encodeFloat32s(vector)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to begin transaction")
	}
	defer tx.Rollback()

	// vec0 does not support ON CONFLICT; delete-then-insert is the upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE hash_seq = ?`, key); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to clear existing vector")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors (hash_seq, embedding) VALUES (?, ?)`, key, blob); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to insert vector")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO content_vectors (content_hash, seq, pos, model_name, embedded_at, embedding_raw)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, seq) DO UPDATE SET pos = excluded.pos, model_name = excluded.model_name, embedded_at = excluded.embedded_at, embedding_raw = excluded.embedding_raw
	`, contentHash, seq, pos, modelName, now, raw); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to record content_vectors row")
	}

	return tx.Commit()
}

// GetVector returns the seq=0 vector stored for a content hash, for
// the searcher's embedding-rerank stage. Returns (nil, nil) if no
// vector has been recorded for that hash yet.
func (s *Store) GetVector(ctx context.Context, contentHash string) ([]float32, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding_raw FROM content_vectors WHERE content_hash = ? AND seq = 0
	`, contentHash).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to load vector")
	}
	return decodeFloat32s(raw), nil
}

// ClearAllEmbeddings drops every vector and content_vectors row,
// leaving the lexical index untouched. Used when switching embedding
// models to a different dimension.
func (s *Store) ClearAllEmbeddings(ctx context.Context) error {
	if s.vectorAvailable {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors`); err != nil {
			return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to clear vectors")
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_vectors`); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to clear content_vectors")
	}
	return nil
}

// EmbeddingStatus reports how much active content has vectors.
func (s *Store) EmbeddingStatus(ctx context.Context) (EmbeddingStatus, error) {
	status := EmbeddingStatus{VectorAvailable: s.vectorAvailable}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT content_hash) FROM documents WHERE active = 1`).Scan(&status.TotalContent); err != nil {
		return status, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to count active content")
	}

	var embedded int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT d.content_hash)
		FROM documents d
		JOIN content_vectors cv ON cv.content_hash = d.content_hash
		WHERE d.active = 1
	`).Scan(&embedded)
	if err != nil {
		return status, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to count embedded content")
	}
	status.EmbeddedCount = embedded
	status.PendingCount = status.TotalContent - embedded

	s.db.QueryRowContext(ctx, `SELECT model_name FROM content_vectors ORDER BY embedded_at DESC LIMIT 1`).Scan(&status.ModelName)
	return status, nil
}
