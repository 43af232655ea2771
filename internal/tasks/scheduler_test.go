package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quru/imageserver/internal/store"
)

func TestScheduleBuildPyramidSubmitsTask(t *testing.T) {
	var gotFunction string
	st := &stubStore{
		createFn: func(ctx context.Context, owner, name, functionName, paramsJSON, priority string, keepForSeconds int64) (store.Task, bool, error) {
			gotFunction = functionName
			assert.Equal(t, PriorityLow, priority)
			return store.Task{ID: 1}, false, nil
		},
	}
	q := NewQueue(st)
	err := q.ScheduleBuildPyramid(context.Background(), 10, "a/b.jpg", "jpg")
	require.NoError(t, err)
	assert.Equal(t, FuncBuildPyramid, gotFunction)
}

func TestScheduleBuildPyramidTreatsDedupAsSuccess(t *testing.T) {
	st := &stubStore{
		createFn: func(ctx context.Context, owner, name, functionName, paramsJSON, priority string, keepForSeconds int64) (store.Task, bool, error) {
			return store.Task{ID: 1}, true, nil
		},
	}
	q := NewQueue(st)
	err := q.ScheduleBuildPyramid(context.Background(), 10, "a/b.jpg", "jpg")
	assert.NoError(t, err)
}
