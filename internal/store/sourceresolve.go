package store

import (
	"context"
	"database/sql"
	"path"
	"strings"
)

// ResolveSource maps a canonical source path (e.g. "a/b/cathedral.jpg")
// to its source_id, creating the images row and any missing ancestor
// folders on first sight (§3 ImageSrcID, §4.4 step 2).
func (s *Store) ResolveSource(ctx context.Context, srcPath string) (int64, bool, error) {
	clean := strings.Trim(path.Clean("/"+srcPath), "/")
	dir, _ := path.Split(clean)
	dir = strings.Trim(dir, "/")

	folderID, err := s.ensureFolderPath(ctx, dir)
	if err != nil {
		return 0, false, err
	}
	return s.SourceID(ctx, folderID, clean)
}

// ensureFolderPath walks "" (root) down to path, creating any ancestor
// that does not yet exist. Folders hold parent_id rather than an owned
// child pointer (DESIGN NOTES §9), so this is a plain iterative lookup.
func (s *Store) ensureFolderPath(ctx context.Context, p string) (int64, error) {
	if p == "" {
		return s.ensureRootFolder(ctx)
	}
	segments := strings.Split(p, "/")
	var parentID sql.NullInt64
	built := ""
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if built == "" {
			built = seg
		} else {
			built = built + "/" + seg
		}
		f, err := s.GetFolderByPath(ctx, built)
		if err == nil {
			parentID = sql.NullInt64{Int64: f.ID, Valid: true}
			continue
		}
		if err != sql.ErrNoRows {
			return 0, err
		}
		created, err := s.CreateFolder(ctx, built, parentID)
		if err != nil {
			if err == ErrAlreadyExists {
				if f2, gerr := s.GetFolderByPath(ctx, built); gerr == nil {
					parentID = sql.NullInt64{Int64: f2.ID, Valid: true}
					continue
				}
			}
			return 0, err
		}
		parentID = sql.NullInt64{Int64: created.ID, Valid: true}
	}
	return parentID.Int64, nil
}

func (s *Store) ensureRootFolder(ctx context.Context) (int64, error) {
	f, err := s.GetFolderByPath(ctx, "")
	if err == nil {
		return f.ID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	created, err := s.CreateFolder(ctx, "", sql.NullInt64{})
	if err != nil {
		if err == ErrAlreadyExists {
			if f2, gerr := s.GetFolderByPath(ctx, ""); gerr == nil {
				return f2.ID, nil
			}
		}
		return 0, err
	}
	return created.ID, nil
}
