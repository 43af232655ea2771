package cache

import (
	"context"
	"time"
)

const lockPrefix = "LOCK:"

// clampWaitBudget enforces the [10, 120]s range §4.3 requires.
func clampWaitBudget(d time.Duration) time.Duration {
	switch {
	case d < 10*time.Second:
		return 10 * time.Second
	case d > 120*time.Second:
		return 120 * time.Second
	default:
		return d
	}
}

// AcquireGeneration attempts to become the sole generator for
// fingerprint fp. ok is true if this caller won the race; waitBudget is
// the TTL under which the lock (and this caller's exclusivity) expires.
func (s *Store) AcquireGeneration(fp string, waitBudget time.Duration) (ok bool) {
	waitBudget = clampWaitBudget(waitBudget)
	return s.AtomicAdd(lockPrefix+fp, []byte{1}, waitBudget)
}

func (s *Store) ReleaseGeneration(fp string) {
	s.Delete(lockPrefix + fp)
}

// WaitForResult busy-waits at ~1Hz for either the primary key fp to
// appear (returning its bytes) or the wait budget to expire (returning
// ErrServerTooBusy), per §4.3 stampede control.
func (s *Store) WaitForResult(ctx context.Context, fp string, waitBudget time.Duration) ([]byte, error) {
	waitBudget = clampWaitBudget(waitBudget)
	deadline := time.Now().Add(waitBudget)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if v, ok := s.Get(fp); ok {
			return v, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrServerTooBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
