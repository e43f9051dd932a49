package store

import (
	"context"
	"database/sql"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/ids"
)

// BM25Hit is a single lexical search result.
type BM25Hit struct {
	DocumentID  string
	Path        string
	Title       string
	Content     string
	ContentHash string
	Score       float64 // normalized to (0, 1): |s| / (1 + |s|)
}

// BM25Search runs an FTS5 MATCH query against title/doc, scoped to a
// collection when collectionID is non-nil. Query terms are sanitized
// to plain prefix terms so user input can never break out of the FTS5
// query grammar.
func (s *Store) BM25Search(ctx context.Context, query string, collectionID *int64, limit int) ([]BM25Hit, error) {
	matchQuery := sanitizeFTSQuery(query)
	if matchQuery == "" {
		return nil, nil
	}

	args := []any{matchQuery}
	where := "documents_fts MATCH ? AND d.active = 1"
	if collectionID != nil {
		where += " AND d.collection_id = ?"
		args = append(args, *collectionID)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.doc_id, d.path, d.title, c.body, d.content_hash, bm25(documents_fts) AS raw_score
		FROM documents_fts
		JOIN documents d ON d.seq = documents_fts.rowid
		JOIN content c ON c.content_hash = d.content_hash
		WHERE `+where+`
		ORDER BY raw_score ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "bm25 search failed")
	}
	defer rows.Close()

	var hits []BM25Hit
	for rows.Next() {
		var h BM25Hit
		var raw float64
		if err := rows.Scan(&h.DocumentID, &h.Path, &h.Title, &h.Content, &h.ContentHash, &raw); err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan bm25 row")
		}
		// bm25() returns more-negative values for better matches.
		abs := -raw
		if abs < 0 {
			abs = 0
		}
		h.Score = abs / (1 + abs)
		hits = append(hits, h)
	}
	observability.RecordSearcherResults("bm25", len(hits))
	return hits, rows.Err()
}

// sanitizeFTSQuery strips FTS5 query-language metacharacters from free
// text and rewrites it as a sequence of prefix terms, so arbitrary user
// input is always valid MATCH syntax.
func sanitizeFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		switch r {
		case '"', '*', '(', ')', ':', '^', '-':
			return true
		}
		return r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, ``)+`"*`)
	}
	return strings.Join(terms, " ")
}

// VecHit is a single vector search result.
type VecHit struct {
	DocumentID  string
	Path        string
	Title       string
	Content     string
	ContentHash string
	Score       float64 // 1 - cosine distance
}

// VecSearch runs an ANN query against the vec0 table, over-fetching by
// 3x the requested limit and deduplicating by (collection, path) so a
// document with more than one embedded chunk surfaces once, at its
// best-matching distance. Returns an empty result (not an error) when
// the vector table is unavailable or the embedding's dimension does
// not match the configured one.
func (s *Store) VecSearch(ctx context.Context, embedding []float32, collectionID *int64, limit int) ([]VecHit, error) {
	if !s.vectorAvailable {
		return nil, nil
	}
	if len(embedding) != s.dim {
		return nil, nil
	}

	overfetch := limit * 3
	if overfetch < limit {
		overfetch = limit
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreInvalidInput, "failed to encode query embedding")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT hash_seq, distance
		FROM vectors
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance ASC
	`, blob, overfetch)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "vector search failed")
	}
	defer rows.Close()

	best := make(map[string]float64) // content_hash -> best distance
	order := make([]string, 0, overfetch)
	for rows.Next() {
		var hashSeq string
		var distance float64
		if err := rows.Scan(&hashSeq, &distance); err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan vector row")
		}
		hash := ids.ContentHashFromVecKey(hashSeq)
		if prev, ok := best[hash]; !ok || distance < prev {
			if !ok {
				order = append(order, hash)
			}
			best[hash] = distance
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var hits []VecHit
	seenPath := make(map[string]bool)
	for _, hash := range order {
		args := []any{hash}
		where := "d.content_hash = ? AND d.active = 1"
		if collectionID != nil {
			where += " AND d.collection_id = ?"
			args = append(args, *collectionID)
		}
		row := s.db.QueryRowContext(ctx, `
			SELECT d.doc_id, d.path, d.title, c.body, d.content_hash
			FROM documents d
			JOIN content c ON c.content_hash = d.content_hash
			WHERE `+where+`
			LIMIT 1
		`, args...)
		var h VecHit
		if err := row.Scan(&h.DocumentID, &h.Path, &h.Title, &h.Content, &h.ContentHash); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to resolve vector hit to document")
		}
		dedupeKey := h.Path
		if seenPath[dedupeKey] {
			continue
		}
		seenPath[dedupeKey] = true
		h.Score = 1 - best[hash]
		hits = append(hits, h)
		if len(hits) >= limit {
			break
		}
	}
	observability.RecordSearcherResults("vec", len(hits))
	return hits, nil
}
