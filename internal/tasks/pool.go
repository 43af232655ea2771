package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/quru/imageserver/internal/store"
)

// Handler runs one task function, returning a JSON-marshalable result or
// a *Failure (§9 Open Question: typed failure variant, not a pickled
// native exception).
type Handler func(ctx context.Context, paramsJSON string) (result any, err error)

// Pool is C10: a fixed-size worker pool draining the queue, grounded on
// golang.org/x/sync/semaphore for bounding concurrency (already present
// in the retrieval pack's dependency surface alongside x/sync/errgroup).
type Pool struct {
	store    Store
	handlers map[string]Handler
	size     int64
	sem      *semaphore.Weighted
	procID   string

	pollInterval  time.Duration
	sweepInterval time.Duration

	log *logrus.Entry

	mu       sync.Mutex
	seq      int
	shutdown bool
	wg       sync.WaitGroup
}

func NewPool(s Store, size int, log *logrus.Entry) *Pool {
	if size <= 0 {
		size = 4
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		store: s, handlers: make(map[string]Handler),
		size: int64(size), sem: semaphore.NewWeighted(int64(size)),
		procID:        uuid.NewString(),
		pollInterval:  500 * time.Millisecond,
		sweepInterval: time.Hour,
		log:           log,
	}
}

func (p *Pool) Register(function string, h Handler) { p.handlers[function] = h }

// Run recovers orphaned tasks from any previous instance, then drains
// the queue until ctx is cancelled (§4.6 worker lifecycle, steps 1-4).
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.store.ResetStaleActiveTasks(ctx, p.procID); err != nil {
		return fmt.Errorf("tasks: recover orphaned tasks: %w", err)
	} else if n > 0 {
		p.log.WithField("count", n).Info("tasks: recovered orphaned tasks from a previous instance")
	}

	sweepTicker := time.NewTicker(p.sweepInterval)
	defer sweepTicker.Stop()
	pollTicker := time.NewTicker(p.pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.shutdown = true
			p.mu.Unlock()
			p.wg.Wait()
			return nil
		case <-sweepTicker.C:
			if n, err := p.store.SweepCompletedTasks(ctx); err != nil {
				p.log.WithError(err).Warn("tasks: sweep failed")
			} else if n > 0 {
				p.log.WithField("count", n).Debug("tasks: swept completed tasks")
			}
		case <-pollTicker.C:
			p.dispatch(ctx)
		}
	}
}

func (p *Pool) dispatch(ctx context.Context) {
	p.mu.Lock()
	shuttingDown := p.shutdown
	p.mu.Unlock()
	if shuttingDown {
		return
	}
	for p.sem.TryAcquire(1) {
		lockID := p.nextLockID()
		t, ok, err := p.store.PopNextTask(ctx, lockID)
		if err != nil {
			p.log.WithError(err).Warn("tasks: pop failed")
			p.sem.Release(1)
			return
		}
		if !ok {
			p.sem.Release(1)
			return
		}
		p.wg.Add(1)
		go p.execute(ctx, t)
	}
}

func (p *Pool) nextLockID() string {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()
	return fmt.Sprintf("%s_%d", p.procID, seq)
}

func (p *Pool) execute(ctx context.Context, t store.Task) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	h, ok := p.handlers[t.FunctionName]
	if !ok {
		p.failTask(ctx, t.ID, &Failure{Kind: "unknown_function", Message: t.FunctionName})
		return
	}
	result, err := h(ctx, t.ParamsJSON)
	if err != nil {
		var f *Failure
		if asFailure, ok := err.(*Failure); ok {
			f = asFailure
		} else {
			f = &Failure{Kind: "internal", Message: err.Error()}
		}
		p.failTask(ctx, t.ID, f)
		return
	}
	b, err := json.Marshal(result)
	if err != nil {
		p.failTask(ctx, t.ID, &Failure{Kind: "internal", Message: "marshal result: " + err.Error()})
		return
	}
	if err := p.store.CompleteTask(ctx, t.ID, string(b)); err != nil {
		p.log.WithError(err).WithField("task_id", t.ID).Warn("tasks: complete failed")
	}
}

func (p *Pool) failTask(ctx context.Context, id int64, f *Failure) {
	b, _ := json.Marshal(f)
	if err := p.store.FailTask(ctx, id, string(b)); err != nil {
		p.log.WithError(err).WithField("task_id", id).Warn("tasks: fail-task write failed")
	}
}
