package store

import (
	"context"
	"database/sql"
)

// TemplateRow mirrors the on-disk YAML templates (internal/templates) as
// admin-editable metadata: §4.2 treats the disk directory as the source
// consulted per-request, while this table is what the admin API reads and
// writes. No code copies rows between this table and the disk directory.
type TemplateRow struct {
	ID                  int64
	Name                string
	SpecJSON            string
	ClientExpirySeconds int64
	Attachment          bool
	RecordStats         bool
}

func (s *Store) UpsertTemplate(ctx context.Context, t TemplateRow) (int64, error) {
	attach, rec := 0, 1
	if t.Attachment {
		attach = 1
	}
	if !t.RecordStats {
		rec = 0
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (name, spec_json, client_expiry_seconds, attachment, record_stats)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			spec_json = excluded.spec_json,
			client_expiry_seconds = excluded.client_expiry_seconds,
			attachment = excluded.attachment,
			record_stats = excluded.record_stats
	`, t.Name, t.SpecJSON, t.ClientExpirySeconds, attach, rec)
	if err != nil {
		return 0, err
	}
	if t.ID != 0 {
		return t.ID, nil
	}
	return res.LastInsertId()
}

func (s *Store) GetTemplate(ctx context.Context, name string) (TemplateRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, spec_json, client_expiry_seconds, attachment, record_stats FROM templates WHERE name = ?`, name)
	var t TemplateRow
	var attach, rec int
	if err := row.Scan(&t.ID, &t.Name, &t.SpecJSON, &t.ClientExpirySeconds, &attach, &rec); err != nil {
		return TemplateRow{}, err
	}
	t.Attachment = attach != 0
	t.RecordStats = rec != 0
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]TemplateRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, spec_json, client_expiry_seconds, attachment, record_stats FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TemplateRow
	for rows.Next() {
		var t TemplateRow
		var attach, rec int
		if err := rows.Scan(&t.ID, &t.Name, &t.SpecJSON, &t.ClientExpirySeconds, &attach, &rec); err != nil {
			return nil, err
		}
		t.Attachment = attach != 0
		t.RecordStats = rec != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	return err
}

var _ = sql.ErrNoRows
