// Package cache implements C3: the derivative cache. It layers chunked
// blob storage, a five-field search index, stampede-lock and global-lock
// namespaces, and atomic-add semantics on top of an in-process LRU —
// the commodity in-memory key/value store §4.3 describes, grounded here
// on github.com/hashicorp/golang-lru/v2/expirable rather than a network
// cache server, since nothing in the retrieval pack wires a Redis/
// memcache client and the contract in spec.md §6 only needs get/set/
// atomic_add/delete/delete_multi/get_multi/flush/stats.
package cache

import (
	"errors"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrServerTooBusy is returned by WaitForResult when the stampede wait
// budget expires while another worker still holds the generation lock.
var ErrServerTooBusy = errors.New("server too busy")

// MaxChunks bounds how many key_1..key_N pieces one value may split into.
const MaxChunks = 32

// IndexFields are the five indexed integer search fields stored
// alongside a cache entry's key (§3 CacheEntry, §4.3 layer 2).
type IndexFields struct {
	SourceID int64
	AttrHash int64
	Width    int64
	Height   int64
	Unused   int64
}

type indexRow struct {
	key    string
	size   int
	fields IndexFields
}

type lockEntry struct {
	expires time.Time
}

// Config sizes the cache.
type Config struct {
	// MaxSlotSize is the maximum value size of one underlying LRU slot;
	// larger values are chunked across up to MaxChunks slots.
	MaxSlotSize int
	// MaxSlots bounds the number of slots tracked by the LRU.
	MaxSlots int
}

// Store is the derivative cache: chunked blob storage (layer 1) plus a
// searchable index (layer 2), §4.3.
type Store struct {
	cfg Config

	slots *lru.LRU[string, []byte]

	idxMu sync.RWMutex
	index map[int64][]indexRow // keyed by SourceID

	lockMu sync.Mutex
	locks  map[string]lockEntry

	addMu sync.Mutex // guards AtomicAdd's check-then-set

	bytesMu   sync.Mutex
	bytesUsed int64
}

func New(cfg Config) *Store {
	if cfg.MaxSlotSize <= 0 {
		cfg.MaxSlotSize = 1 << 20 // 1 MiB
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 4096
	}
	s := &Store{
		cfg:   cfg,
		index: make(map[int64][]indexRow),
		locks: make(map[string]lockEntry),
	}
	s.slots = lru.NewLRU[string, []byte](cfg.MaxSlots, s.onEvict, 0)
	return s
}

func (s *Store) onEvict(key string, value []byte) {
	s.bytesMu.Lock()
	s.bytesUsed -= int64(len(value))
	s.bytesMu.Unlock()
}

// Get reassembles and returns the bytes for key, if present. A head
// chunk with a missing tail chunk is treated as an orphan and purged.
func (s *Store) Get(key string) ([]byte, bool) {
	head, ok := s.slots.Get(chunkKey(key, 0))
	if !ok {
		return nil, false
	}
	n, body := decodeHeader(head)
	if n <= 1 {
		return body, true
	}
	out := make([]byte, 0, len(body)*n)
	out = append(out, body...)
	for i := 1; i < n; i++ {
		part, ok := s.slots.Get(chunkKey(key, i))
		if !ok {
			s.purgeChunks(key, n)
			return nil, false
		}
		out = append(out, part...)
	}
	return out, true
}

func (s *Store) purgeChunks(key string, n int) {
	for i := 0; i < n && i < MaxChunks; i++ {
		s.slots.Remove(chunkKey(key, i))
	}
}

// Set stores value under key, chunking it across up to MaxChunks slots,
// and records the index fields for later base-image search.
func (s *Store) Set(key string, value []byte, fields IndexFields) error {
	chunks := chunkify(value, s.cfg.MaxSlotSize)
	if len(chunks) > MaxChunks {
		return errors.New("value too large for configured chunk ceiling")
	}
	for i, c := range chunks {
		payload := c
		if i == 0 {
			payload = encodeHeader(len(chunks), c)
		}
		s.bytesMu.Lock()
		s.bytesUsed += int64(len(payload))
		s.bytesMu.Unlock()
		s.slots.Add(chunkKey(key, i), payload)
	}
	s.idxMu.Lock()
	rows := s.index[fields.SourceID]
	replaced := false
	for i := range rows {
		if rows[i].key == key {
			rows[i] = indexRow{key: key, size: len(value), fields: fields}
			replaced = true
			break
		}
	}
	if !replaced {
		rows = append(rows, indexRow{key: key, size: len(value), fields: fields})
	}
	s.index[fields.SourceID] = rows
	s.idxMu.Unlock()
	return nil
}

// Delete removes key (all its chunks) and its index row.
func (s *Store) Delete(key string) {
	head, ok := s.slots.Peek(chunkKey(key, 0))
	n := 1
	if ok {
		n, _ = decodeHeader(head)
	}
	s.purgeChunks(key, n)

	s.idxMu.Lock()
	for sid, rows := range s.index {
		for i, r := range rows {
			if r.key == key {
				s.index[sid] = append(rows[:i], rows[i+1:]...)
				break
			}
		}
	}
	s.idxMu.Unlock()
}

func (s *Store) DeleteMulti(keys []string) {
	for _, k := range keys {
		s.Delete(k)
	}
}

func (s *Store) GetMulti(keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// AtomicAdd stores value under key only if key is currently absent,
// returning true on success. This is the single CAS-style primitive
// §4.3/§9 require for the stampede lock, the pyramid "done" marker and
// the global schema/permission-version lock.
func (s *Store) AtomicAdd(key string, value []byte, ttl time.Duration) bool {
	s.addMu.Lock()
	defer s.addMu.Unlock()
	if _, ok := s.Get(key); ok {
		return false
	}
	_ = s.Set(key, value, IndexFields{})
	if ttl > 0 {
		s.lockMu.Lock()
		s.locks[key] = lockEntry{expires: time.Now().Add(ttl)}
		s.lockMu.Unlock()
		time.AfterFunc(ttl, func() { s.Delete(key) })
	}
	return true
}

// ActiveLocks reports how many stampede/global locks are currently held,
// for the admin stats surface.
func (s *Store) ActiveLocks() int {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	now := time.Now()
	n := 0
	for k, e := range s.locks {
		if now.After(e.expires) {
			delete(s.locks, k)
			continue
		}
		n++
	}
	return n
}

// Flush empties the entire cache: blobs, index and locks.
func (s *Store) Flush() {
	s.slots.Purge()
	s.idxMu.Lock()
	s.index = make(map[int64][]indexRow)
	s.idxMu.Unlock()
	s.lockMu.Lock()
	s.locks = make(map[string]lockEntry)
	s.lockMu.Unlock()
	s.bytesMu.Lock()
	s.bytesUsed = 0
	s.bytesMu.Unlock()
}

// Stats returns configured capacity and bytes currently used.
func (s *Store) Stats() (capacityBytes, usedBytes int64) {
	s.bytesMu.Lock()
	defer s.bytesMu.Unlock()
	return int64(s.cfg.MaxSlots) * int64(s.cfg.MaxSlotSize), s.bytesUsed
}

// SearchBase returns up to maxCandidates keys for sourceID/attrHash whose
// width/height are each >= the given minimums, ordered by ascending
// stored size so the tightest candidate is tried first (§4.3).
func (s *Store) SearchBase(sourceID, attrHash int64, minWidth, minHeight int64, maxCandidates int) []string {
	s.idxMu.RLock()
	rows := append([]indexRow(nil), s.index[sourceID]...)
	s.idxMu.RUnlock()

	var matched []indexRow
	for _, r := range rows {
		if r.fields.AttrHash != attrHash {
			continue
		}
		if r.fields.Width < minWidth || r.fields.Height < minHeight {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].size < matched[j].size })
	if len(matched) > maxCandidates {
		matched = matched[:maxCandidates]
	}
	out := make([]string, len(matched))
	for i, r := range matched {
		out[i] = r.key
	}
	return out
}

// InvalidateSource deletes every derivative, metadata record, stampede
// lock and pyramid marker associated with sourceID (§4.3 Invalidation).
func (s *Store) InvalidateSource(sourceID int64) {
	s.idxMu.RLock()
	rows := append([]indexRow(nil), s.index[sourceID]...)
	s.idxMu.RUnlock()
	for _, r := range rows {
		s.Delete(r.key)
	}
	s.idxMu.Lock()
	delete(s.index, sourceID)
	s.idxMu.Unlock()
}

func chunkKey(key string, i int) string {
	if i == 0 {
		return key
	}
	return key + "\x00" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b [20]byte
	pos := len(b)
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

func chunkify(value []byte, slotSize int) [][]byte {
	if len(value) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for off := 0; off < len(value); off += slotSize {
		end := off + slotSize
		if end > len(value) {
			end = len(value)
		}
		out = append(out, value[off:end])
	}
	return out
}

// encodeHeader prefixes chunk 0 with a fixed-width chunk count so Get
// knows how many chunks to assemble.
func encodeHeader(n int, chunk0 []byte) []byte {
	out := make([]byte, 4+len(chunk0))
	out[0] = byte(n >> 24)
	out[1] = byte(n >> 16)
	out[2] = byte(n >> 8)
	out[3] = byte(n)
	copy(out[4:], chunk0)
	return out
}

func decodeHeader(payload []byte) (int, []byte) {
	if len(payload) < 4 {
		return 1, payload
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	return n, payload[4:]
}
