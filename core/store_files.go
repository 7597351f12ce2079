package core

import (
	"context"
	"database/sql"
)

// UpsertFile creates or updates a file row bound to a post.
func (s *Store) UpsertFile(ctx context.Context, f File) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, f.PostID).Scan(&exists); err == sql.ErrNoRows {
			return E(KindNotFound, "store.upsert_file", errPostNotFound)
		} else if err != nil {
			return E(KindStoreFailure, "store.upsert_file", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files (id, post_id, path, original_name, mime, blob_id, size_bytes, checksum, ticket, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				path = excluded.path,
				original_name = excluded.original_name,
				mime = excluded.mime,
				blob_id = excluded.blob_id,
				size_bytes = excluded.size_bytes,
				checksum = excluded.checksum,
				ticket = excluded.ticket,
				status = excluded.status`,
			f.ID, f.PostID, f.Path, f.OriginalName, f.Mime, f.BlobID, f.SizeBytes, f.Checksum, f.Ticket, string(f.Status))
		if err != nil {
			return E(KindStoreFailure, "store.upsert_file", err)
		}
		return nil
	})
}

// GetFile returns a file by id, or (nil, nil) if absent.
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, path, original_name, mime, blob_id, size_bytes, checksum, ticket, status
		FROM files WHERE id = ?`, id)
	var f File
	var status string
	var original, mime, blobID, checksum, ticket sql.NullString
	var size sql.NullInt64
	err := row.Scan(&f.ID, &f.PostID, &f.Path, &original, &mime, &blobID, &size, &checksum, &ticket, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, E(KindStoreFailure, "store.get_file", err)
	}
	f.OriginalName, f.Mime, f.BlobID, f.Checksum, f.Ticket = original.String, mime.String, blobID.String, checksum.String, ticket.String
	f.SizeBytes = size.Int64
	f.Status = DownloadStatus(status)
	return &f, nil
}

// SetFileStatus updates a file's content fields after a completed
// download: checksum, size, blob id, and status (spec.md §4.7 FileChunk).
func (s *Store) SetFileStatus(ctx context.Context, fileID string, status DownloadStatus, checksum, blobID string, size int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE files SET status = ?, checksum = ?, blob_id = ?, size_bytes = ? WHERE id = ?`,
			string(status), checksum, blobID, size, fileID)
		if err != nil {
			return E(KindStoreFailure, "store.set_file_status", err)
		}
		return nil
	})
}

// ListFilesByPost returns all files attached to a post.
func (s *Store) ListFilesByPost(ctx context.Context, postID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, path, original_name, mime, blob_id, size_bytes, checksum, ticket, status
		FROM files WHERE post_id = ?`, postID)
	if err != nil {
		return nil, E(KindStoreFailure, "store.list_files_by_post", err)
	}
	defer rows.Close()
	var out []File
	for rows.Next() {
		var f File
		var status string
		var original, mime, blobID, checksum, ticket sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&f.ID, &f.PostID, &f.Path, &original, &mime, &blobID, &size, &checksum, &ticket, &status); err != nil {
			return nil, E(KindStoreFailure, "store.list_files_by_post.scan", err)
		}
		f.OriginalName, f.Mime, f.BlobID, f.Checksum, f.Ticket = original.String, mime.String, blobID.String, checksum.String, ticket.String
		f.SizeBytes = size.Int64
		f.Status = DownloadStatus(status)
		out = append(out, f)
	}
	return out, nil
}
