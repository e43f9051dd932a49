package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/ids"
)

// Document is a single indexed file: stable doc_id, the collection it
// belongs to, its path, title, content hash and raw front matter.
type Document struct {
	ID           string
	Seq          int64
	CollectionID int64
	Path         string
	Title        string
	Content      string
	ContentHash  string
	Frontmatter  json.RawMessage
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Upsert indexes (or re-indexes) a single document. It implements the
// six-step protocol: hash the body, compute the stable doc id, look up
// any existing row for (collection, path), replace the document and
// content rows, re-sync the FTS index explicitly (no triggers), and
// garbage-collect the previous content body if nothing else still
// references it.
func (s *Store) Upsert(ctx context.Context, collectionID int64, path, title, body string, frontmatter json.RawMessage) (*Document, error) {
	start := time.Now()
	defer func() { observability.RecordStoreUpsert(time.Since(start)) }()

	if path == "" {
		return nil, stderrors.New(stderrors.CodeStoreInvalidInput, "document path is required")
	}
	if frontmatter == nil {
		frontmatter = json.RawMessage("{}")
	}

	contentHash := ids.ContentHash(body)
	docID := ids.DocumentID(contentHash, path)
	now := time.Now().Unix()

	var seq int64
	var previousHash string
	var previousActive int
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, content_hash, active FROM documents WHERE collection_id = ? AND path = ?`,
		collectionID, path,
	).Scan(&seq, &previousHash, &previousActive)
	hadExisting := err == nil
	if err != nil && err != sql.ErrNoRows {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to look up existing document",
			stderrors.FieldPath(path))
	}
	// A soft-deleted row's previousHash reference was already released by
	// ReconcileSoftDeletes at delete time (it ran gcOrphanContent then).
	// Reactivating it is a new reference even when the hash is unchanged,
	// and must not release previousHash again below.
	wasReactivated := hadExisting && previousActive == 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to begin transaction")
	}
	defer tx.Rollback()

	createdAt := now
	if hadExisting {
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET doc_id = ?, title = ?, content_hash = ?, frontmatter = ?, active = 1, updated_at = ?
			WHERE seq = ?
		`, docID, title, contentHash, string(frontmatter), now, seq); err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to update document",
				stderrors.FieldPath(path))
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, collection_id, path, title, content_hash, frontmatter, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		`, docID, collectionID, path, title, contentHash, string(frontmatter), now, now)
		if err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to insert document",
				stderrors.FieldPath(path))
		}
		seq, err = res.LastInsertId()
		if err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to read inserted document rowid")
		}
	}

	isNewReference := !hadExisting || previousHash != contentHash || wasReactivated
	if err := s.upsertContentTx(ctx, tx, contentHash, body, now, isNewReference); err != nil {
		return nil, err
	}

	// Explicit FTS re-sync: external-content tables require the caller
	// to keep the index in step since no trigger exists on this table.
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE rowid = ?`, seq); err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to clear stale fts entry")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents_fts (rowid, title, doc) VALUES (?, ?, ?)`, seq, title, body); err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to insert fts entry")
	}

	// The previous hash's reference is only released here when this row
	// was already active and switched to a different body: a reactivated
	// soft-deleted row's previousHash was already released at delete
	// time, and releasing it again would double-decrement a hash some
	// other active document still references. Runs inside the same
	// transaction as the rest of the upsert so a crash can't leave
	// ref_count decremented without the document row change it pairs with.
	if hadExisting && !wasReactivated && previousHash != contentHash {
		if err := s.gcOrphanContentTx(ctx, tx, previousHash); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to commit document upsert")
	}

	if !hadExisting {
		createdAt = now
	}

	return &Document{
		ID: docID, Seq: seq, CollectionID: collectionID, Path: path, Title: title,
		Content: body, ContentHash: contentHash, Frontmatter: frontmatter, Active: true,
		CreatedAt: time.Unix(createdAt, 0).UTC(), UpdatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// upsertContentTx writes the content body for a hash, incrementing its
// reference count only when this call represents a new active document
// reference to that hash (a brand new document, or an existing document
// whose body just changed to this hash). A re-upsert of an unchanged
// body (same hash as before) must not bump ref_count, or a repeated
// reindex of untouched files inflates it without bound and later leaves
// gcOrphanContent believing stale content is still referenced.
func (s *Store) upsertContentTx(ctx context.Context, tx *sql.Tx, contentHash, body string, now int64, isNewReference bool) error {
	var err error
	if isNewReference {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO content (content_hash, body, ref_count, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(content_hash) DO UPDATE SET ref_count = ref_count + 1, updated_at = excluded.updated_at
		`, contentHash, body, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO content (content_hash, body, ref_count, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(content_hash) DO UPDATE SET updated_at = excluded.updated_at
		`, contentHash, body, now)
	}
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to upsert content body")
	}
	return nil
}

// dbExecutor is satisfied by both *sql.DB and *sql.Tx, so
// gcOrphanContentTx can run either standalone or as part of a caller's
// own transaction.
type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// gcOrphanContent decrements the reference count for a content hash
// and, if nothing references it anymore, deletes the content row and
// any vectors computed for it. Runs as its own unit of work against the
// store's connection pool.
func (s *Store) gcOrphanContent(ctx context.Context, contentHash string) error {
	return s.gcOrphanContentTx(ctx, s.db, contentHash)
}

// gcOrphanContentTx is gcOrphanContent's logic parameterized over a
// dbExecutor, so a caller already holding a transaction can fold the
// decrement into it instead of running it as a separate unit of work
// after commit (a crash in between would otherwise leave ref_count
// decremented without the document change that motivated it).
func (s *Store) gcOrphanContentTx(ctx context.Context, q dbExecutor, contentHash string) error {
	var refs int
	err := q.QueryRowContext(ctx, `
		UPDATE content SET ref_count = MAX(ref_count - 1, 0) WHERE content_hash = ?
		RETURNING ref_count
	`, contentHash).Scan(&refs)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to decrement content ref count")
	}
	if refs > 0 {
		return nil
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM content WHERE content_hash = ?`, contentHash); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to delete orphaned content")
	}

	rows, err := q.QueryContext(ctx, `SELECT seq FROM content_vectors WHERE content_hash = ?`, contentHash)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to enumerate orphaned vectors")
	}
	var seqs []int
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan orphaned vector row")
		}
		seqs = append(seqs, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if s.vectorAvailable {
		for _, seq := range seqs {
			key := ids.VecKey(contentHash, seq)
			if _, err := q.ExecContext(ctx, `DELETE FROM vectors WHERE hash_seq = ?`, key); err != nil {
				return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to delete orphaned vector")
			}
		}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM content_vectors WHERE content_hash = ?`, contentHash); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to delete orphaned content_vectors rows")
	}

	observability.RecordStoreOrphanGC(1 + len(seqs))
	return nil
}

// Get returns a single document by collection and path.
func (s *Store) Get(ctx context.Context, collectionID int64, path string) (*Document, error) {
	var d Document
	var fm string
	var createdAt, updatedAt int64
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, doc_id, collection_id, path, title, content_hash, frontmatter, active, created_at, updated_at
		FROM documents WHERE collection_id = ? AND path = ?
	`, collectionID, path).Scan(&d.Seq, &d.ID, &d.CollectionID, &d.Path, &d.Title, &d.ContentHash, &fm, &active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, stderrors.New(stderrors.CodeStoreDocumentNotFound, "document not found", stderrors.FieldPath(path))
	}
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to query document", stderrors.FieldPath(path))
	}
	d.Frontmatter = json.RawMessage(fm)
	d.Active = active != 0
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	var body string
	if err := s.db.QueryRowContext(ctx, `SELECT body FROM content WHERE content_hash = ?`, d.ContentHash).Scan(&body); err == nil {
		d.Content = body
	}
	return &d, nil
}

// GetByContentHash returns the stored body for a content hash, used by
// the embedder to fetch the text to embed for a backlog entry that may
// no longer have a single canonical document path.
func (s *Store) GetByContentHash(ctx context.Context, contentHash string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM content WHERE content_hash = ?`, contentHash).Scan(&body)
	if err == sql.ErrNoRows {
		return "", stderrors.New(stderrors.CodeStoreDocumentNotFound, "content not found", stderrors.Field("content_hash", contentHash))
	}
	if err != nil {
		return "", stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to query content body")
	}
	return body, nil
}

// RemoveDocument hard-deletes a single document row, its FTS entry, and
// (if nothing else references the body) its content and vector rows.
// Unlike ReconcileSoftDeletes this removes the row outright rather than
// marking it inactive, for callers that own the document directly
// (memoir keys) rather than discovering deletions via a directory walk.
func (s *Store) RemoveDocument(ctx context.Context, collectionID int64, path string) error {
	var seq int64
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, content_hash FROM documents WHERE collection_id = ? AND path = ?`,
		collectionID, path,
	).Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return stderrors.New(stderrors.CodeStoreDocumentNotFound, "document not found", stderrors.FieldPath(path))
	}
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to look up document", stderrors.FieldPath(path))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE rowid = ?`, seq); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to remove fts entry", stderrors.FieldPath(path))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE seq = ?`, seq); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to remove document", stderrors.FieldPath(path))
	}
	if err := tx.Commit(); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to commit document removal")
	}

	if err := s.gcOrphanContent(ctx, hash); err != nil {
		s.logger.Warn().Err(err).Str("content_hash", hash).Msg("orphan content GC failed after document removal")
	}
	return nil
}

// ReconcileSoftDeletes marks every document in a collection whose path
// is not in seenPaths as inactive and garbage-collects its content and
// FTS entry, without deleting the document row itself (its history and
// doc_id stay addressable).
func (s *Store) ReconcileSoftDeletes(ctx context.Context, collectionID int64, seenPaths map[string]bool) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, path, content_hash FROM documents WHERE collection_id = ? AND active = 1`, collectionID)
	if err != nil {
		return 0, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to enumerate documents for reconciliation")
	}
	type row struct {
		seq  int64
		path string
		hash string
	}
	var stale []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.path, &r.hash); err != nil {
			rows.Close()
			return 0, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan document row")
		}
		if !seenPaths[r.path] {
			stale = append(stale, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range stale {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to begin reconciliation transaction")
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET active = 0, updated_at = ? WHERE seq = ?`, time.Now().Unix(), r.seq); err != nil {
			tx.Rollback()
			return 0, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to soft-delete document")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE rowid = ?`, r.seq); err != nil {
			tx.Rollback()
			return 0, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to remove fts entry for soft-deleted document")
		}
		if err := tx.Commit(); err != nil {
			return 0, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to commit soft-delete")
		}
		if err := s.gcOrphanContent(ctx, r.hash); err != nil {
			s.logger.Warn().Err(err).Str("path", r.path).Msg("orphan content GC failed during reconciliation")
		}
	}
	return len(stale), nil
}
