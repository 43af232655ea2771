package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// Folder holds parent_id rather than an owned child pointer (DESIGN
// NOTES §9): folders form an arena of records keyed by id, looked up by
// parent/children on demand, so cyclic or deeply nested trees never need
// recursive ownership.
type Folder struct {
	ID       int64
	ParentID sql.NullInt64
	Path     string
	Status   string
}

var ErrAlreadyExists = errors.New("already exists")

func (s *Store) CreateFolder(ctx context.Context, path string, parentID sql.NullInt64) (Folder, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO folders (parent_id, path, status) VALUES (?, ?, 'active')`, parentID, path)
	if err != nil {
		if isUniqueViolation(err) {
			return Folder{}, ErrAlreadyExists
		}
		return Folder{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Folder{}, err
	}
	return Folder{ID: id, ParentID: parentID, Path: path, Status: "active"}, nil
}

func (s *Store) GetFolderByPath(ctx context.Context, path string) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, parent_id, path, status FROM folders WHERE path = ?`, path)
	var f Folder
	if err := row.Scan(&f.ID, &f.ParentID, &f.Path, &f.Status); err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (s *Store) GetFolder(ctx context.Context, id int64) (Folder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, parent_id, path, status FROM folders WHERE id = ?`, id)
	var f Folder
	if err := row.Scan(&f.ID, &f.ParentID, &f.Path, &f.Status); err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (s *Store) Children(ctx context.Context, parentID int64) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id, path, status FROM folders WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.ParentID, &f.Path, &f.Status); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) RenameFolder(ctx context.Context, id int64, newPath string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE folders SET path = ? WHERE id = ?`, newPath, id)
	return err
}

func (s *Store) MarkFolderDeleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE folders SET status = 'deleted' WHERE id = ?`, id)
	return err
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps SQLITE_CONSTRAINT as a plain error whose
	// text includes "UNIQUE constraint failed"; database/sql gives us no
	// typed error for it, so check the one place it's safe to: SQL layer
	// calls below propagate it unchanged and NotFound errors use
	// sql.ErrNoRows instead, so the substring check cannot shadow those.
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}

var _ = sql.ErrNoRows
