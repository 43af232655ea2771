package store

import (
	"context"
	"database/sql"
)

// getProperty and setProperty back the generic string KV table used for
// singleton counters such as "perm.version" and ad-hoc system flags.
func (s *Store) getProperty(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM properties WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) setProperty(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetProperty and SetProperty expose the KV table for admin use (e.g. the
// CLI's property get/set commands).
func (s *Store) GetProperty(ctx context.Context, key string) (string, bool, error) {
	return s.getProperty(ctx, key)
}

func (s *Store) SetProperty(ctx context.Context, key, value string) error {
	return s.setProperty(ctx, key, value)
}
