package tasks

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/quru/imageserver/internal/store"
)

// Store is the narrow contract the queue consumes from the relational
// store (§6: "Durable, priority-ordered queue... at-most-one-in-flight").
type Store interface {
	CreateOrAttachTask(ctx context.Context, owner, name, functionName, paramsJSON, priority string, keepForSeconds int64) (store.Task, bool, error)
	PopNextTask(ctx context.Context, lockID string) (store.Task, bool, error)
	CompleteTask(ctx context.Context, id int64, resultJSON string) error
	FailTask(ctx context.Context, id int64, resultJSON string) error
	ResetOrphanedTasks(ctx context.Context, stalePrefix string) (int64, error)
	ResetStaleActiveTasks(ctx context.Context, currentPrefix string) (int64, error)
	SweepCompletedTasks(ctx context.Context) (int64, error)
	GetTask(ctx context.Context, id int64) (store.Task, error)
}

// ErrAlreadySubmitted is returned by Submit for a duplicate in-flight
// (function, params) pair — §4.6/§8 "Task dedup": the caller should
// treat this as §7's AlreadyExists (HTTP 409), not a failure.
var ErrAlreadySubmitted = errors.New("task already submitted")

// Priority levels. They are not ranked by string order; store.PopNextTask's
// SQL CASE expression ranks them high, then normal, then low.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

type Queue struct {
	store Store
}

func NewQueue(s Store) *Queue { return &Queue{store: s} }

// Submit enqueues (name, function, params) with at-most-one-in-flight
// dedup semantics. keepForSeconds is how long a completed/failed row
// survives before internal/store's sweep removes it.
func (q *Queue) Submit(ctx context.Context, owner, name, function string, params any, priority string, keepForSeconds int64) (int64, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	t, deduped, err := q.store.CreateOrAttachTask(ctx, owner, name, function, string(b), priority, keepForSeconds)
	if err != nil {
		return 0, err
	}
	if deduped {
		return t.ID, ErrAlreadySubmitted
	}
	return t.ID, nil
}

// WaitForTask polls a task to completion, per §4.6's "wait-for-task
// API". poll is called between each unsuccessful poll (e.g. to sleep);
// ctx expiry surfaces ctx.Err() so the caller can respond 202 Accepted.
func (q *Queue) WaitForTask(ctx context.Context, id int64, poll func()) (store.Task, error) {
	for {
		t, err := q.store.GetTask(ctx, id)
		if err != nil {
			return store.Task{}, err
		}
		if t.Status == store.TaskComplete || t.Status == store.TaskFailed {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return store.Task{}, ctx.Err()
		default:
		}
		if poll != nil {
			poll()
		}
	}
}
