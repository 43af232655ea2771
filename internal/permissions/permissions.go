// Package permissions implements C7: the permission oracle. Per §5 it
// keeps a per-process in-memory cache for public entries
// (github.com/hashicorp/golang-lru/v2, already used elsewhere in the
// pack) and a cross-process cache for user-specific entries backed by
// the shared derivative cache store, both versioned by a monotonically
// increasing counter so a permission change anywhere invalidates every
// stale entry without a cache flush.
package permissions

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quru/imageserver/internal/cache"
)

// AccessLevel mirrors the folder-permission levels of the relational
// store's folder_permissions table.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessView
	AccessDownload
	AccessUpload
	AccessEdit
	AccessDelete
	AccessCreateFolder
	AccessDeleteFolder
)

func (a AccessLevel) Allows(required AccessLevel) bool { return a >= required }

// ForbiddenError mirrors §7's Forbidden/SecurityError mapping.
type ForbiddenError struct{ Reason string }

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

// Store is the narrow contract the oracle consumes from the relational
// store (§6): resolving group membership, folder permission rows, and
// system-level flags, plus the version counter used to invalidate caches.
type Store interface {
	UserGroupIDs(ctx context.Context, userID int64) ([]int64, error)
	FolderAccessLevel(ctx context.Context, folderPath string, groupIDs []int64, public bool) (AccessLevel, error)
	SystemFlag(ctx context.Context, flag string, userID int64) (bool, error)
	PermissionVersion(ctx context.Context) (int64, error)
	BumpPermissionVersion(ctx context.Context) (int64, error)
}

type entry struct {
	level   AccessLevel
	version int64
}

// Oracle resolves (user, folder, access-level) -> allow/deny.
type Oracle struct {
	store Store
	dist  *cache.Store

	public *lru.Cache[string, entry]

	refreshMu sync.Mutex
	version   int64
}

func New(store Store, dist *cache.Store, publicCacheSize int) (*Oracle, error) {
	if publicCacheSize <= 0 {
		publicCacheSize = 4096
	}
	c, err := lru.New[string, entry](publicCacheSize)
	if err != nil {
		return nil, err
	}
	o := &Oracle{store: store, dist: dist, public: c}
	if v, err := store.PermissionVersion(context.Background()); err == nil {
		o.version = v
	}
	return o, nil
}

// HasSystem resolves a system-level capability flag for a user.
func (o *Oracle) HasSystem(ctx context.Context, flag string, userID int64) (bool, error) {
	return o.store.SystemFlag(ctx, flag, userID)
}

// HasFolder resolves (user, folder, access-level). userID == 0 means the
// public/anonymous caller. mayNotExist does not change the result:
// HasFolder never reports NotFound, only nil (allowed), a *ForbiddenError
// or a store error.
func (o *Oracle) HasFolder(ctx context.Context, folder string, required AccessLevel, userID int64, mayNotExist bool) error {
	level, err := o.resolve(ctx, folder, userID)
	if err != nil {
		return err
	}
	if !level.Allows(required) {
		return &ForbiddenError{Reason: fmt.Sprintf("%s requires access level %d, have %d", folder, required, level)}
	}
	return nil
}

// TraceFolder is the diagnostic variant: it returns the resolved level
// and whether it came from cache, without raising on denial.
func (o *Oracle) TraceFolder(ctx context.Context, folder string, userID int64) (level AccessLevel, fromCache bool, err error) {
	key := cacheKey(folder, userID)
	if userID == 0 {
		if e, ok := o.public.Get(key); ok && e.version == o.currentVersion() {
			return e.level, true, nil
		}
	} else if b, ok := o.dist.Get(key); ok {
		if e, ok2 := decodeEntry(b); ok2 && e.version == o.currentVersion() {
			return e.level, true, nil
		}
	}
	level, err = o.fetch(ctx, folder, userID)
	return level, false, err
}

func (o *Oracle) resolve(ctx context.Context, folder string, userID int64) (AccessLevel, error) {
	key := cacheKey(folder, userID)
	cur := o.currentVersion()
	if userID == 0 {
		if e, ok := o.public.Get(key); ok && e.version == cur {
			return e.level, nil
		}
	} else if b, ok := o.dist.Get(key); ok {
		if e, ok2 := decodeEntry(b); ok2 && e.version == cur {
			return e.level, nil
		}
	}
	return o.fetch(ctx, folder, userID)
}

func (o *Oracle) fetch(ctx context.Context, folder string, userID int64) (AccessLevel, error) {
	var groupIDs []int64
	if userID != 0 {
		g, err := o.store.UserGroupIDs(ctx, userID)
		if err != nil {
			return AccessNone, err
		}
		groupIDs = g
	}
	level, err := o.store.FolderAccessLevel(ctx, folder, groupIDs, userID == 0)
	if err != nil {
		return AccessNone, err
	}
	cur := o.currentVersion()
	key := cacheKey(folder, userID)
	e := entry{level: level, version: cur}
	if userID == 0 {
		o.public.Add(key, e)
	} else {
		_ = o.dist.Set(key, encodeEntry(e), cache.IndexFields{})
	}
	return level, nil
}

// currentVersion returns the locally held version counter under
// refreshMu. It does not consult the store; RefreshVersion and
// BumpVersion are what update it.
func (o *Oracle) currentVersion() int64 {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()
	return o.version
}

// RefreshVersion polls the store's version counter and, if it has
// advanced, clears the public cache so stale entries are no longer
// served (distributed entries self-invalidate via the stored version
// tag instead of an explicit flush).
func (o *Oracle) RefreshVersion(ctx context.Context) error {
	v, err := o.store.PermissionVersion(ctx)
	if err != nil {
		return err
	}
	o.refreshMu.Lock()
	changed := v != o.version
	o.version = v
	o.refreshMu.Unlock()
	if changed {
		o.public.Purge()
	}
	return nil
}

// BumpVersion is called whenever permissions change anywhere; it
// acquires the cross-process global lock first so concurrent bumps
// serialise (§4.3 "Cross-process global lock").
func (o *Oracle) BumpVersion(ctx context.Context) (int64, error) {
	if o.dist.TryGlobalLock(2 * time.Second) {
		defer o.dist.ReleaseGlobalLock()
	}
	v, err := o.store.BumpPermissionVersion(ctx)
	if err != nil {
		return 0, err
	}
	o.refreshMu.Lock()
	o.version = v
	o.refreshMu.Unlock()
	o.public.Purge()
	return v, nil
}

func cacheKey(folder string, userID int64) string {
	if userID == 0 {
		return "PERM:pub:" + folder
	}
	return fmt.Sprintf("PERM:u%d:%s", userID, folder)
}

func encodeEntry(e entry) []byte {
	b := make([]byte, 9)
	b[0] = byte(e.level)
	binary.BigEndian.PutUint64(b[1:], uint64(e.version))
	return b
}

func decodeEntry(b []byte) (entry, bool) {
	if len(b) != 9 {
		return entry{}, false
	}
	return entry{level: AccessLevel(b[0]), version: int64(binary.BigEndian.Uint64(b[1:]))}, true
}
