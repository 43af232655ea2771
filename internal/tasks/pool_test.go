package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quru/imageserver/internal/store"
)

type fakePoolStore struct {
	mu sync.Mutex

	pending []store.Task

	completed map[int64]string
	failed    map[int64]string

	orphansReset int64
}

func (f *fakePoolStore) CreateOrAttachTask(ctx context.Context, owner, name, functionName, paramsJSON, priority string, keepForSeconds int64) (store.Task, bool, error) {
	return store.Task{}, false, nil
}

func (f *fakePoolStore) PopNextTask(ctx context.Context, lockID string) (store.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return store.Task{}, false, nil
	}
	t := f.pending[0]
	f.pending = f.pending[1:]
	return t, true, nil
}

func (f *fakePoolStore) CompleteTask(ctx context.Context, id int64, resultJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = resultJSON
	return nil
}

func (f *fakePoolStore) FailTask(ctx context.Context, id int64, resultJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = resultJSON
	return nil
}

func (f *fakePoolStore) ResetOrphanedTasks(ctx context.Context, stalePrefix string) (int64, error) {
	return 0, nil
}

func (f *fakePoolStore) ResetStaleActiveTasks(ctx context.Context, currentPrefix string) (int64, error) {
	return f.orphansReset, nil
}

func (f *fakePoolStore) SweepCompletedTasks(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakePoolStore) GetTask(ctx context.Context, id int64) (store.Task, error) {
	return store.Task{}, nil
}

func newFakePoolStore() *fakePoolStore {
	return &fakePoolStore{completed: map[int64]string{}, failed: map[int64]string{}}
}

func TestPoolDispatchesRegisteredHandler(t *testing.T) {
	fs := newFakePoolStore()
	fs.pending = []store.Task{{ID: 1, FunctionName: "noop"}}

	p := NewPool(fs, 2, nil)
	p.pollInterval = 5 * time.Millisecond
	p.sweepInterval = time.Hour

	done := make(chan struct{})
	p.Register("noop", func(ctx context.Context, paramsJSON string) (any, error) {
		close(done)
		return map[string]int{"ok": 1}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
	cancel()
	time.Sleep(20 * time.Millisecond)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Contains(t, fs.completed, int64(1))
	var result map[string]int
	require.NoError(t, json.Unmarshal([]byte(fs.completed[1]), &result))
	assert.Equal(t, 1, result["ok"])
}

func TestPoolFailsUnregisteredFunction(t *testing.T) {
	fs := newFakePoolStore()
	fs.pending = []store.Task{{ID: 2, FunctionName: "ghost"}}

	p := NewPool(fs, 1, nil)
	p.pollInterval = 5 * time.Millisecond
	p.sweepInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		_, ok := fs.failed[2]
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	var f Failure
	require.NoError(t, json.Unmarshal([]byte(fs.failed[2]), &f))
	assert.Equal(t, "unknown_function", f.Kind)
}

func TestPoolPropagatesHandlerFailure(t *testing.T) {
	fs := newFakePoolStore()
	fs.pending = []store.Task{{ID: 3, FunctionName: "boom"}}

	p := NewPool(fs, 1, nil)
	p.pollInterval = 5 * time.Millisecond
	p.sweepInterval = time.Hour
	p.Register("boom", func(ctx context.Context, paramsJSON string) (any, error) {
		return nil, &Failure{Kind: "unsupported", Message: "cannot burst this format"}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		_, ok := fs.failed[3]
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	var f Failure
	require.NoError(t, json.Unmarshal([]byte(fs.failed[3]), &f))
	assert.Equal(t, "unsupported", f.Kind)
	assert.Equal(t, "cannot burst this format", f.Message)
}

func TestPoolResetsOrphanedTasksOnStartup(t *testing.T) {
	fs := newFakePoolStore()
	fs.orphansReset = 2

	p := NewPool(fs, 1, nil)
	p.pollInterval = 5 * time.Millisecond
	p.sweepInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
}
