package api

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quru/imageserver/internal/blobstore"
	"github.com/quru/imageserver/internal/cache"
	"github.com/quru/imageserver/internal/codec"
	"github.com/quru/imageserver/internal/config"
	"github.com/quru/imageserver/internal/imagemanager"
	"github.com/quru/imageserver/internal/imagespec"
	"github.com/quru/imageserver/internal/permissions"
	"github.com/quru/imageserver/internal/stats"
	"github.com/quru/imageserver/internal/store"
	"github.com/quru/imageserver/internal/tasks"
	"github.com/quru/imageserver/internal/templates"
)

type fakeCodec struct{}

func (fakeCodec) Adjust(ctx context.Context, imageBytes []byte, inputHint string, ops codec.Operations) ([]byte, error) {
	return []byte("derivative-bytes"), nil
}
func (fakeCodec) Dimensions(ctx context.Context, imageBytes []byte, inputHint string) (codec.Dimensions, error) {
	return codec.Dimensions{Width: 100, Height: 100}, nil
}
func (fakeCodec) ProfileData(ctx context.Context, imageBytes []byte, inputHint string) ([]codec.ProfileEntry, error) {
	return nil, nil
}
func (fakeCodec) BurstPDF(ctx context.Context, imageBytes []byte, destDir string, dpi int) (bool, error) {
	return false, nil
}
func (fakeCodec) SupportedOperations() map[string]bool { return map[string]bool{} }
func (fakeCodec) SupportedFileTypes() map[string]bool  { return map[string]bool{"jpg": true} }

type testServer struct {
	srv   *Server
	st    *store.Store
	blobs *blobstore.Store
	perms *permissions.Oracle
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	derivCache := cache.New(cache.Config{})

	tpls, err := templates.New(t.TempDir(), nil)
	require.NoError(t, err)

	perms, err := permissions.New(st, derivCache, 0)
	require.NoError(t, err)

	statsSink := stats.New(prometheus.NewRegistry(), st, nil)

	queue := tasks.NewQueue(st)

	mgr := imagemanager.New(imagemanager.Config{
		Defaults:          imagespec.Defaults{Format: "jpg"},
		WaitBudget:        time.Second,
		MaxBaseCandidates: 8,
		DefaultExpirySeconds: 3600,
	}, fakeCodec{}, derivCache, blobs, tpls, nil, perms, statsSink, st, queue, nil)

	srv := New(config.Config{}, mgr, blobs, perms, st, queue, nil)
	return &testServer{srv: srv, st: st, blobs: blobs, perms: perms}
}

// grantPublicAccess resolves srcPath's folder chain and grants public
// access at the given level on its immediate parent folder.
func (ts *testServer) grantPublicAccess(t *testing.T, srcPath string, level permissions.AccessLevel) {
	t.Helper()
	_, _, err := ts.st.ResolveSource(context.Background(), srcPath)
	require.NoError(t, err)

	dir := strings.TrimSuffix(srcPath, "/"+lastSegment(srcPath))
	if dir == srcPath {
		dir = ""
	}
	f, err := ts.st.GetFolderByPath(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, ts.st.SetFolderPermission(context.Background(), f.ID, sql.NullInt64{}, true, level))
	_, err = ts.perms.BumpVersion(context.Background())
	require.NoError(t, err)
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestHandleImageMissingSrcReturns400(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/image", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleImageDeniedWithoutPermissionReturns403(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Write(bytes.NewReader([]byte("fake-jpeg-bytes")), "a/b", "cathedral.jpg", true, true))
	_, _, err := ts.st.ResolveSource(context.Background(), "a/b/cathedral.jpg")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/image?src=a/b/cathedral.jpg", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleImageServesAndSetsCacheHeaders(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Write(bytes.NewReader([]byte("fake-jpeg-bytes")), "a/b", "cathedral.jpg", true, true))
	ts.grantPublicAccess(t, "a/b/cathedral.jpg", permissions.AccessView)

	req := httptest.NewRequest(http.MethodGet, "/image?src=a/b/cathedral.jpg&width=100", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "derivative-bytes", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("ETag"))
	assert.Equal(t, "false", w.Header().Get("X-From-Cache"))

	// second request should come from the derivative cache
	w2 := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/image?src=a/b/cathedral.jpg&width=100", nil))
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "true", w2.Header().Get("X-From-Cache"))
}

func TestHandleImageInvalidQueryReturns400(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Write(bytes.NewReader([]byte("fake-jpeg-bytes")), "a/b", "cathedral.jpg", true, true))
	ts.grantPublicAccess(t, "a/b/cathedral.jpg", permissions.AccessView)

	req := httptest.NewRequest(http.MethodGet, "/image?src=a/b/cathedral.jpg&width=-5", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleOriginalServesRawBytes(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Write(bytes.NewReader([]byte("raw-bytes")), "a/b", "cathedral.jpg", true, true))
	ts.grantPublicAccess(t, "a/b/cathedral.jpg", permissions.AccessDownload)

	req := httptest.NewRequest(http.MethodGet, "/original?src=a/b/cathedral.jpg", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "raw-bytes", w.Body.String())
}

func TestHandleOriginalMissingFileReturns404(t *testing.T) {
	ts := newTestServer(t)
	ts.grantPublicAccess(t, "a/b/ghost.jpg", permissions.AccessDownload)

	req := httptest.NewRequest(http.MethodGet, "/original?src=a/b/ghost.jpg", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminFolderCreateAndGet(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"path": {"c/d"}}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/filesystem/folders/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/admin/filesystem/folders/?path=c/d", nil)
	getW := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

func TestAdminSetPermissionBumpsVersion(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.st.CreateFolder(context.Background(), "e/f", sql.NullInt64{})
	require.NoError(t, err)

	before, err := ts.st.PermissionVersion(context.Background())
	require.NoError(t, err)

	form := url.Values{"path": {"e/f"}, "public": {"1"}, "access_level": {strconv.Itoa(int(permissions.AccessView))}}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/permissions/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	after, err := ts.st.PermissionVersion(context.Background())
	require.NoError(t, err)
	assert.Greater(t, after, before)
}

func TestAdminTemplateCRUD(t *testing.T) {
	ts := newTestServer(t)

	body := strings.NewReader(`{"width": 200, "height": 100, "format": "jpg", "client_expiry_seconds": 60}`)
	putReq := httptest.NewRequest(http.MethodPut, "/api/admin/templates/thumb", body)
	putW := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusOK, putW.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/admin/templates/", nil)
	listW := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)
	assert.Contains(t, listW.Body.String(), "thumb")

	delReq := httptest.NewRequest(http.MethodDelete, "/api/admin/templates/thumb", nil)
	delW := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(delW, delReq)
	assert.Equal(t, http.StatusOK, delW.Code)
}

func TestAdminPurgeDeletedFolderSubmitsTaskAndDedups(t *testing.T) {
	ts := newTestServer(t)
	f, err := ts.st.CreateFolder(context.Background(), "g/h", sql.NullInt64{})
	require.NoError(t, err)

	form := url.Values{"folder_id": {strconv.FormatInt(f.ID, 10)}}
	req := httptest.NewRequest(http.MethodPost, "/api/admin/tasks/purge-deleted-folder", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/admin/tasks/purge-deleted-folder", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w2 := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestAdminGetTaskNotFoundReturns404(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/tasks/999999", nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminSourceStatsReturnsTotals(t *testing.T) {
	ts := newTestServer(t)
	id, _, err := ts.st.ResolveSource(context.Background(), "i/j/k.jpg")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats/"+strconv.FormatInt(id, 10), nil)
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
