package store

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/quru/imageserver/internal/permissions"
)

// FolderAccessLevel implements permissions.Store: resolves the highest
// access level granted to any of groupIDs (or to the public row) on
// folder_permissions for folderPath, walking up to the nearest ancestor
// that has an explicit row (folders inherit permissions downward).
func (s *Store) FolderAccessLevel(ctx context.Context, folderPath string, groupIDs []int64, public bool) (permissions.AccessLevel, error) {
	f, err := s.GetFolderByPath(ctx, folderPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return permissions.AccessNone, nil
		}
		return permissions.AccessNone, err
	}
	for folderID := (sql.NullInt64{Int64: f.ID, Valid: true}); folderID.Valid; {
		level, found, err := s.explicitAccessLevel(ctx, folderID.Int64, groupIDs, public)
		if err != nil {
			return permissions.AccessNone, err
		}
		if found {
			return level, nil
		}
		row := s.db.QueryRowContext(ctx, `SELECT parent_id FROM folders WHERE id = ?`, folderID.Int64)
		var next sql.NullInt64
		if err := row.Scan(&next); err != nil {
			return permissions.AccessNone, err
		}
		folderID = next
	}
	return permissions.AccessNone, nil
}

func (s *Store) explicitAccessLevel(ctx context.Context, folderID int64, groupIDs []int64, public bool) (permissions.AccessLevel, bool, error) {
	best := permissions.AccessNone
	found := false
	if public {
		row := s.db.QueryRowContext(ctx, `SELECT access_level FROM folder_permissions WHERE folder_id = ? AND is_public = 1`, folderID)
		var lvl int
		if err := row.Scan(&lvl); err == nil {
			return permissions.AccessLevel(lvl), true, nil
		} else if err != sql.ErrNoRows {
			return permissions.AccessNone, false, err
		}
	}
	for _, gid := range groupIDs {
		row := s.db.QueryRowContext(ctx, `SELECT access_level FROM folder_permissions WHERE folder_id = ? AND group_id = ?`, folderID, gid)
		var lvl int
		if err := row.Scan(&lvl); err == nil {
			found = true
			if permissions.AccessLevel(lvl) > best {
				best = permissions.AccessLevel(lvl)
			}
		} else if err != sql.ErrNoRows {
			return permissions.AccessNone, false, err
		}
	}
	return best, found, nil
}

func (s *Store) SetFolderPermission(ctx context.Context, folderID int64, groupID sql.NullInt64, public bool, level permissions.AccessLevel) error {
	isPublic := 0
	if public {
		isPublic = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folder_permissions (folder_id, group_id, is_public, access_level)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(folder_id, group_id, is_public) DO UPDATE SET access_level = excluded.access_level
	`, folderID, groupID, isPublic, int(level))
	return err
}

// SystemFlag resolves a boolean system-level capability from the
// properties table (e.g. "sysflag.allow_non_admin_upload").
func (s *Store) SystemFlag(ctx context.Context, flag string, userID int64) (bool, error) {
	v, ok, err := s.getProperty(ctx, "sysflag."+flag)
	if err != nil || !ok {
		return false, err
	}
	return v == "1" || v == "true", nil
}

// PermissionVersion and BumpPermissionVersion implement the global
// monotonic counter described in §3/§5: every permission change bumps
// it, and cached entries tagged with an older version are ignored.
func (s *Store) PermissionVersion(ctx context.Context) (int64, error) {
	v, ok, err := s.getProperty(ctx, "perm.version")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Store) BumpPermissionVersion(ctx context.Context) (int64, error) {
	cur, err := s.PermissionVersion(ctx)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	if err := s.setProperty(ctx, "perm.version", strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}
