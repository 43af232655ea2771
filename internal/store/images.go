package store

import (
	"context"
	"database/sql"
	"time"
)

type Image struct {
	ID        int64
	FolderID  int64
	Src       string
	Status    string
	CreatedAt time.Time
}

// SourceID resolves src to its source_id, creating the row on first
// sight (§3 ImageSrcID / §4.4 step 2).
func (s *Store) SourceID(ctx context.Context, folderID int64, src string) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM images WHERE src = ?`, src)
	var id int64
	err := row.Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `INSERT INTO images (folder_id, src, status, created_at) VALUES (?, ?, 'active', ?)`, folderID, src, now)
	if err != nil {
		return 0, false, err
	}
	id, err = res.LastInsertId()
	return id, true, err
}

func (s *Store) ImageBySourceID(ctx context.Context, id int64) (Image, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, folder_id, src, status, created_at FROM images WHERE id = ?`, id)
	var img Image
	var created string
	if err := row.Scan(&img.ID, &img.FolderID, &img.Src, &img.Status, &created); err != nil {
		return Image{}, err
	}
	img.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return img, nil
}

func (s *Store) MarkImageDeleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE images SET status = 'deleted' WHERE id = ?`, id)
	return err
}

func (s *Store) RenameImage(ctx context.Context, id int64, newSrc string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE images SET src = ? WHERE id = ?`, newSrc, id)
	return err
}

// ImagesInFolder lists every image row directly under folderID, used by
// the purge-deleted-folder task to find blob paths to remove.
func (s *Store) ImagesInFolder(ctx context.Context, folderID int64) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, folder_id, src, status, created_at FROM images WHERE folder_id = ?`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Image
	for rows.Next() {
		var img Image
		var created string
		if err := rows.Scan(&img.ID, &img.FolderID, &img.Src, &img.Status, &created); err != nil {
			return nil, err
		}
		img.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, img)
	}
	return out, rows.Err()
}

// PurgeFolder hard-deletes a folder row and its direct image rows once
// the task worker has removed their underlying blobs (§4.6
// "purge_deleted_folder": permanent removal, distinct from the soft
// MarkFolderDeleted used by the interactive delete endpoint).
func (s *Store) PurgeFolder(ctx context.Context, folderID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE folder_id = ?`, folderID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, folderID); err != nil {
		return err
	}
	return tx.Commit()
}
