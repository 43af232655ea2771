package store

import (
	"context"
	"database/sql"
	"time"
)

// Task statuses, mirrored in internal/tasks.
const (
	TaskPending   = "pending"
	TaskActive    = "active"
	TaskComplete  = "complete"
	TaskFailed    = "failed"
)

type Task struct {
	ID             int64
	Owner          string
	Name           string
	FunctionName   string
	ParamsJSON     string
	Priority       string
	Status         string
	ResultJSON     sql.NullString
	LockID         sql.NullString
	KeepForSeconds int64
	KeepUntil      sql.NullString
	CreatedAt      time.Time
}

// CreateOrAttachTask implements the at-most-one-in-flight dedup rule of
// §4.6: a pending or active task with the same (function_name,
// params_json) is returned instead of creating a duplicate.
func (s *Store) CreateOrAttachTask(ctx context.Context, owner, name, functionName, paramsJSON, priority string, keepForSeconds int64) (Task, bool, error) {
	if existing, err := s.findInFlightTask(ctx, functionName, paramsJSON); err == nil {
		return existing, true, nil
	} else if err != sql.ErrNoRows {
		return Task{}, false, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (owner, name, function_name, params_json, priority, status, keep_for_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)
	`, owner, name, functionName, paramsJSON, priority, keepForSeconds, now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			if existing, ferr := s.findInFlightTask(ctx, functionName, paramsJSON); ferr == nil {
				return existing, true, nil
			}
		}
		return Task{}, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, false, err
	}
	t := Task{ID: id, Owner: owner, Name: name, FunctionName: functionName, ParamsJSON: paramsJSON, Priority: priority, Status: TaskPending, KeepForSeconds: keepForSeconds, CreatedAt: now}
	return t, false, nil
}

func (s *Store) findInFlightTask(ctx context.Context, functionName, paramsJSON string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, function_name, params_json, priority, status, result_json, lock_id, keep_for_seconds, keep_until, created_at
		FROM tasks WHERE function_name = ? AND params_json = ? AND status IN ('pending','active')
	`, functionName, paramsJSON)
	return scanTask(row)
}

func scanTask(row *sql.Row) (Task, error) {
	var t Task
	var created string
	if err := row.Scan(&t.ID, &t.Owner, &t.Name, &t.FunctionName, &t.ParamsJSON, &t.Priority, &t.Status, &t.ResultJSON, &t.LockID, &t.KeepForSeconds, &t.KeepUntil, &created); err != nil {
		return Task{}, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return t, nil
}

// PopNextTask claims the highest-priority pending task (high > normal >
// low, then FIFO by id) and marks it active under lockID, so a crashed
// worker's claims can later be identified and reset by lock-id prefix.
func (s *Store) PopNextTask(ctx context.Context, lockID string) (Task, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, owner, name, function_name, params_json, priority, status, result_json, lock_id, keep_for_seconds, keep_until, created_at
		FROM tasks WHERE status = 'pending'
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, id
		LIMIT 1
	`)
	var t Task
	var created string
	if err := row.Scan(&t.ID, &t.Owner, &t.Name, &t.FunctionName, &t.ParamsJSON, &t.Priority, &t.Status, &t.ResultJSON, &t.LockID, &t.KeepForSeconds, &t.KeepUntil, &created); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, false, nil
		}
		return Task{}, false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'active', lock_id = ? WHERE id = ?`, lockID, t.ID); err != nil {
		return Task{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, false, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)
	t.Status = TaskActive
	t.LockID = sql.NullString{String: lockID, Valid: true}
	return t, true, nil
}

func (s *Store) CompleteTask(ctx context.Context, id int64, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'complete', result_json = ?,
			keep_until = strftime('%Y-%m-%dT%H:%M:%SZ', 'now', '+' || keep_for_seconds || ' seconds')
		WHERE id = ?
	`, resultJSON, id)
	return err
}

func (s *Store) FailTask(ctx context.Context, id int64, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', result_json = ?,
			keep_until = strftime('%Y-%m-%dT%H:%M:%SZ', 'now', '+' || keep_for_seconds || ' seconds')
		WHERE id = ?
	`, resultJSON, id)
	return err
}

// ResetOrphanedTasks reverts active tasks held by a previous process
// instance (identified by lock-id prefix) back to pending, per the crash
// recovery behaviour in §4.6.
func (s *Store) ResetOrphanedTasks(ctx context.Context, stalePrefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', lock_id = NULL
		WHERE status = 'active' AND lock_id LIKE ? || '%'
	`, stalePrefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetStaleActiveTasks reverts every active task NOT locked by the
// current instance's prefix back to pending. Used at startup instead of
// ResetOrphanedTasks when the previous instance's identifier is unknown
// (a fresh process cannot enumerate its own predecessor's lock-id, only
// recognise that a row isn't its own).
func (s *Store) ResetStaleActiveTasks(ctx context.Context, currentPrefix string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', lock_id = NULL
		WHERE status = 'active' AND (lock_id IS NULL OR lock_id NOT LIKE ? || '%')
	`, currentPrefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepCompletedTasks deletes complete/failed tasks past their
// keep_for_seconds retention window, so dedup keys free up for reuse.
func (s *Store) SweepCompletedTasks(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('complete','failed')
		AND keep_until IS NOT NULL AND keep_until < ?
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, function_name, params_json, priority, status, result_json, lock_id, keep_for_seconds, keep_until, created_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}
