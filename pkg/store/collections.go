package store

import (
	"context"
	"database/sql"
	"time"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
)

// Collection is a named, rooted set of documents.
type Collection struct {
	ID        int64
	Name      string
	Root      string
	Glob      string
	CreatedAt time.Time
}

// AddCollection creates a collection, or updates its root/glob if the
// name already exists (add is upsert-by-name, per the collection
// registry's contract).
func (s *Store) AddCollection(ctx context.Context, name, root, glob string) (*Collection, error) {
	if name == "" || root == "" {
		return nil, stderrors.New(stderrors.CodeCollectionsPathMissing, "collection name and root are required",
			stderrors.FieldCollection(name), stderrors.FieldPath(root))
	}
	if glob == "" {
		glob = "*.md"
	}

	now := time.Now().Unix()
	err := withBusyRetry(ctx, s.logger, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO collections (name, root, glob, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET root = excluded.root, glob = excluded.glob
		`, name, root, glob, now)
		return err
	})
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to upsert collection",
			stderrors.FieldCollection(name))
	}

	return s.GetCollection(ctx, name)
}

// GetCollection looks up a collection by name.
func (s *Store) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var c Collection
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, root, glob, created_at FROM collections WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Root, &c.Glob, &createdAt)
	if err == sql.ErrNoRows {
		return nil, stderrors.New(stderrors.CodeCollectionsNotFound, "collection not found",
			stderrors.FieldCollection(name))
	}
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to query collection",
			stderrors.FieldCollection(name))
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, root, glob, created_at FROM collections ORDER BY name`)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to list collections")
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Root, &c.Glob, &createdAt); err != nil {
			return nil, stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan collection row")
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// RemoveCollection deletes a collection. Documents belonging to it
// cascade via ON DELETE CASCADE, but the FTS index and the
// content-addressed body/vector tables require the same manual cleanup
// as a single-document delete, so it is done explicitly per document
// before the collection row itself is removed.
func (s *Store) RemoveCollection(ctx context.Context, name string) error {
	col, err := s.GetCollection(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to begin transaction")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT seq, content_hash FROM documents WHERE collection_id = ?`, col.ID)
	if err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to enumerate collection documents")
	}
	var seqs []int64
	var hashes []string
	for rows.Next() {
		var seq int64
		var hash string
		if err := rows.Scan(&seq, &hash); err != nil {
			rows.Close()
			return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to scan document row")
		}
		seqs = append(seqs, seq)
		hashes = append(hashes, hash)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to enumerate collection documents")
	}

	for _, seq := range seqs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents_fts WHERE rowid = ?`, seq); err != nil {
			return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to remove fts entry")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, col.ID); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to remove collection",
			stderrors.FieldCollection(name))
	}

	if err := tx.Commit(); err != nil {
		return stderrors.Wrap(err, stderrors.CodeStoreDatabaseFailure, "failed to commit collection removal")
	}

	for _, hash := range hashes {
		if err := s.gcOrphanContent(ctx, hash); err != nil {
			s.logger.Warn().Err(err).Str("content_hash", hash).Msg("orphan content GC failed after collection removal")
		}
	}
	return nil
}
