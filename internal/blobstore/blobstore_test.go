package blobstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("hello")), "a/b", "c.jpg", true, false))

	got, err := s.Read("a/b/c.jpg")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestWriteWithoutOverwriteRejectsExisting(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("v1")), "a", "f.jpg", true, false))
	err := s.Write(bytes.NewReader([]byte("v2")), "a", "f.jpg", true, false)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestWriteWithOverwriteReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("v1")), "a", "f.jpg", true, false))
	require.NoError(t, s.Write(bytes.NewReader([]byte("v2")), "a", "f.jpg", true, true))

	got, err := s.Read("a/f.jpg")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

func TestPathEscapeRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("../../etc/passwd")
	var secErr *SecurityError
	assert.ErrorAs(t, err, &secErr)
}

func TestPathExists(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("x")), "dir", "f.jpg", true, false))

	ok, err := s.PathExists("dir/f.jpg", true, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PathExists("dir", false, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PathExists("dir/f.jpg", false, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.PathExists("missing", true, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListReturnsEntryNames(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("1")), "dir", "a.jpg", true, false))
	require.NoError(t, s.Write(bytes.NewReader([]byte("2")), "dir", "b.jpg", true, false))

	names, err := s.List("dir")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, names)
}

func TestDeleteRemovesFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("x")), "dir", "f.jpg", true, false))
	require.NoError(t, s.Delete("dir/f.jpg"))

	ok, err := s.PathExists("dir/f.jpg", true, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameMovesFileAndCreatesDestDir(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("payload")), "src", "f.jpg", true, false))

	require.NoError(t, s.Rename("src/f.jpg", "dest/sub/f.jpg"))

	ok, err := s.PathExists("src/f.jpg", true, false)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Read("dest/sub/f.jpg")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestStatPathReportsSizeAndKind(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write(bytes.NewReader([]byte("12345")), "dir", "f.jpg", true, false))

	st, err := s.StatPath("dir/f.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Size)
	assert.False(t, st.IsDir)

	st, err = s.StatPath("dir")
	require.NoError(t, err)
	assert.True(t, st.IsDir)
}

func TestNewCreatesRootDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "root")
	_, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
