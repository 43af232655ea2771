package store

import (
	"context"
	"time"
)

// RecordStat implements stats.Recorder.
func (s *Store) RecordStat(ctx context.Context, sourceID int64, kind string, bytes int64, seconds float64, fromCache bool) error {
	cache := 0
	if fromCache {
		cache = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats (source_id, kind, bytes, seconds, from_cache, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sourceID, kind, bytes, seconds, cache, time.Now().UTC().Format(time.RFC3339))
	return err
}

type SourceTotals struct {
	Views     int64
	Downloads int64
	BytesOut  int64
	CacheHits int64
}

func (s *Store) SourceStats(ctx context.Context, sourceID int64) (SourceTotals, error) {
	var t SourceTotals
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'view' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'download' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(bytes), 0),
			COALESCE(SUM(CASE WHEN from_cache = 1 THEN 1 ELSE 0 END), 0)
		FROM stats WHERE source_id = ?
	`, sourceID)
	err := row.Scan(&t.Views, &t.Downloads, &t.BytesOut, &t.CacheHits)
	return t, err
}
