package cache

import "time"

const globalLockKey = "GLOBAL:lock"
const globalLockTTL = 60 * time.Second

// TryGlobalLock attempts to acquire the single well-known global lock
// used to serialise rare schema-style operations (initial database
// create, permission version bumps), §4.3/§5. It spins with backoff for
// up to timeout; if the cache cannot be reached at all the caller should
// fall through silently per §5 (AtomicAdd has no network failure mode in
// this in-process implementation, so that case does not arise here).
func (s *Store) TryGlobalLock(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	backoff := 25 * time.Millisecond
	for {
		if s.AtomicAdd(globalLockKey, []byte{1}, globalLockTTL) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(backoff)
		if backoff < 500*time.Millisecond {
			backoff *= 2
		}
	}
}

func (s *Store) ReleaseGlobalLock() {
	s.Delete(globalLockKey)
}
