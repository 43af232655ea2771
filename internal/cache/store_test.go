package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(Config{})
	want := []byte("hello derivative")
	require.NoError(t, s.Set("k1", want, IndexFields{SourceID: 1}))

	got, ok := s.Get("k1")
	require.True(t, ok)
	assert.True(t, bytes.Equal(want, got))
}

func TestSetGetChunksLargeValue(t *testing.T) {
	s := New(Config{MaxSlotSize: 8})
	want := bytes.Repeat([]byte("a"), 100)
	require.NoError(t, s.Set("big", want, IndexFields{SourceID: 1}))

	got, ok := s.Get("big")
	require.True(t, ok)
	assert.True(t, bytes.Equal(want, got))
}

func TestGetMissingChunkPurgesOrphan(t *testing.T) {
	s := New(Config{MaxSlotSize: 4})
	require.NoError(t, s.Set("k", []byte("abcdefgh"), IndexFields{SourceID: 1}))
	s.slots.Remove(chunkKey("k", 1))

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestDeleteRemovesValueAndIndexRow(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Set("k", []byte("v"), IndexFields{SourceID: 5, Width: 100, Height: 100}))
	s.Delete("k")

	_, ok := s.Get("k")
	assert.False(t, ok)
	assert.Empty(t, s.SearchBase(5, 0, 0, 0, 10))
}

func TestDeleteMultiAndGetMulti(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Set("a", []byte("1"), IndexFields{}))
	require.NoError(t, s.Set("b", []byte("2"), IndexFields{}))

	got := s.GetMulti([]string{"a", "b", "missing"})
	assert.Len(t, got, 2)

	s.DeleteMulti([]string{"a", "b"})
	assert.Empty(t, s.GetMulti([]string{"a", "b"}))
}

func TestAtomicAddOnlySucceedsOnce(t *testing.T) {
	s := New(Config{})
	assert.True(t, s.AtomicAdd("lock", []byte("1"), 0))
	assert.False(t, s.AtomicAdd("lock", []byte("1"), 0))
}

func TestAtomicAddExpiresAfterTTL(t *testing.T) {
	s := New(Config{})
	require.True(t, s.AtomicAdd("lock", []byte("1"), 10*time.Millisecond))
	assert.Equal(t, 1, s.ActiveLocks())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, s.ActiveLocks())
	assert.True(t, s.AtomicAdd("lock", []byte("1"), 0))
}

func TestSearchBaseFiltersByAttrHashAndMinSize(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Set("big", []byte("11111"), IndexFields{SourceID: 1, AttrHash: 9, Width: 800, Height: 600}))
	require.NoError(t, s.Set("small", []byte("22"), IndexFields{SourceID: 1, AttrHash: 9, Width: 100, Height: 100}))
	require.NoError(t, s.Set("wrongattr", []byte("3"), IndexFields{SourceID: 1, AttrHash: 1, Width: 800, Height: 600}))

	got := s.SearchBase(1, 9, 400, 400, 10)
	assert.Equal(t, []string{"big"}, got)
}

func TestSearchBaseOrdersBySizeAscending(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Set("larger", bytes.Repeat([]byte("x"), 50), IndexFields{SourceID: 1, AttrHash: 1, Width: 500, Height: 500}))
	require.NoError(t, s.Set("smaller", bytes.Repeat([]byte("x"), 10), IndexFields{SourceID: 1, AttrHash: 1, Width: 500, Height: 500}))

	got := s.SearchBase(1, 1, 0, 0, 10)
	assert.Equal(t, []string{"smaller", "larger"}, got)
}

func TestSearchBaseRespectsMaxCandidates(t *testing.T) {
	s := New(Config{})
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(k, []byte(k), IndexFields{SourceID: 1, AttrHash: 1, Width: 10, Height: 10}))
	}
	got := s.SearchBase(1, 1, 0, 0, 2)
	assert.Len(t, got, 2)
}

func TestInvalidateSourceRemovesAllItsEntries(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Set("a", []byte("1"), IndexFields{SourceID: 1}))
	require.NoError(t, s.Set("b", []byte("2"), IndexFields{SourceID: 1}))
	require.NoError(t, s.Set("c", []byte("3"), IndexFields{SourceID: 2}))

	s.InvalidateSource(1)

	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("b")
	assert.False(t, ok)
	got, ok := s.Get("c")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), got)
}

func TestFlushClearsEverything(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Set("a", []byte("1"), IndexFields{SourceID: 1}))
	s.AtomicAdd("lock", []byte("1"), time.Minute)

	s.Flush()

	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.ActiveLocks())
	_, used := s.Stats()
	assert.Equal(t, int64(0), used)
}

func TestStatsReflectsUsedBytes(t *testing.T) {
	s := New(Config{MaxSlotSize: 1024, MaxSlots: 10})
	capacity, used := s.Stats()
	assert.Equal(t, int64(1024*10), capacity)
	assert.Equal(t, int64(0), used)

	require.NoError(t, s.Set("a", []byte("hello"), IndexFields{}))
	_, used = s.Stats()
	assert.Greater(t, used, int64(0))
}
