// Package api is the HTTP/REST surface: GET /image and GET /original
// (§6 "HTTP image request", bit-exact) plus a representative slice of
// the /api/admin/* administrative CRUD surface §1 calls out as an
// external collaborator. Routing follows the teacher's
// chi.NewRouter + Server.Router() pattern.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/quru/imageserver/internal/blobstore"
	"github.com/quru/imageserver/internal/cache"
	"github.com/quru/imageserver/internal/codec"
	"github.com/quru/imageserver/internal/config"
	"github.com/quru/imageserver/internal/imagemanager"
	"github.com/quru/imageserver/internal/imagespec"
	"github.com/quru/imageserver/internal/permissions"
	"github.com/quru/imageserver/internal/store"
	"github.com/quru/imageserver/internal/tasks"
)

type Server struct {
	cfg     config.Config
	manager *imagemanager.Manager
	blobs   *blobstore.Store
	perms   *permissions.Oracle
	store   *store.Store
	queue   *tasks.Queue
	log     *logrus.Entry
}

func New(cfg config.Config, manager *imagemanager.Manager, blobs *blobstore.Store, perms *permissions.Oracle, st *store.Store, queue *tasks.Queue, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{cfg: cfg, manager: manager, blobs: blobs, perms: perms, store: st, queue: queue, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/image", s.handleImage)
	r.Get("/original", s.handleOriginal)

	r.Route("/api/admin", func(r chi.Router) {
		r.Route("/filesystem/folders", func(r chi.Router) {
			r.Post("/", s.handleCreateFolder)
			r.Get("/", s.handleGetFolder)
		})
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.handleCreateUser)
		})
		r.Route("/groups", func(r chi.Router) {
			r.Post("/", s.handleCreateGroup)
			r.Post("/{id}/members", s.handleAddGroupMember)
		})
		r.Route("/permissions", func(r chi.Router) {
			r.Post("/", s.handleSetPermission)
		})
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Put("/{name}", s.handleUpsertTemplate)
			r.Delete("/{name}", s.handleDeleteTemplate)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/purge-deleted-folder", s.handlePurgeDeletedFolder)
			r.Get("/{id}", s.handleGetTask)
		})
		r.Get("/stats/{sourceID}", s.handleSourceStats)
	})

	return r
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")
	if strings.TrimSpace(src) == "" {
		writeError(w, &imagespec.InvalidParameterError{Field: "src", Reason: "required"})
		return
	}
	req := imagemanager.Request{
		Source:      src,
		Query:       r.URL.Query(),
		UserID:      userIDFromRequest(r),
		IfNoneMatch: r.Header.Get("If-None-Match"),
		Attachment:  isTruthy(r.URL.Query().Get("attach")),
	}
	res, err := s.manager.Serve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-From-Cache", strconv.FormatBool(res.FromCache))
	if res.NotModified {
		w.Header().Set("ETag", quoteETag(res.ETag))
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("ETag", quoteETag(res.ETag))
	if !res.LastModified.IsZero() {
		w.Header().Set("Last-Modified", res.LastModified.UTC().Format(http.TimeFormat))
	}
	if res.ClientExpirySeconds > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", res.ClientExpirySeconds))
		w.Header().Set("Expires", time.Now().Add(time.Duration(res.ClientExpirySeconds)*time.Second).UTC().Format(http.TimeFormat))
	}
	if res.Attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Bytes)
}

func (s *Server) handleOriginal(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")
	if strings.TrimSpace(src) == "" {
		writeError(w, &imagespec.InvalidParameterError{Field: "src", Reason: "required"})
		return
	}
	folder := src
	if i := strings.LastIndex(src, "/"); i >= 0 {
		folder = src[:i]
	} else {
		folder = ""
	}
	if err := s.perms.HasFolder(r.Context(), folder, permissions.AccessDownload, userIDFromRequest(r), false); err != nil {
		writeError(w, err)
		return
	}
	exists, err := s.blobs.PathExists(src, true, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		writeError(w, &notFoundError{src})
		return
	}
	b, err := s.blobs.Read(src)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-From-Cache", "false")
	_, _ = w.Write(b)
}

type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return "not found: " + e.path }

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(cleanDoubleSlashes(r.FormValue("path")), "/")
	var parentID sql.NullInt64
	if dir := parentPath(path); dir != "" {
		if pf, err := s.store.GetFolderByPath(r.Context(), dir); err == nil {
			parentID = sql.NullInt64{Int64: pf.ID, Valid: true}
		}
	}
	f, err := s.store.CreateFolder(r.Context(), path, parentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": "/" + f.Path})
}

func (s *Server) handleGetFolder(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Query().Get("path"), "/")
	f, err := s.store.GetFolderByPath(r.Context(), path)
	if err != nil {
		writeError(w, &notFoundError{path})
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.CreateUser(r.Context(), r.FormValue("username"), r.FormValue("password_hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.CreateGroup(r.Context(), r.FormValue("name"), r.FormValue("description"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleAddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "id", Reason: "not an integer"})
		return
	}
	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "user_id", Reason: "not an integer"})
		return
	}
	if err := s.store.AddUserToGroup(r.Context(), userID, groupID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFolderByPath(r.Context(), strings.Trim(r.FormValue("path"), "/"))
	if err != nil {
		writeError(w, &notFoundError{r.FormValue("path")})
		return
	}
	var groupID sql.NullInt64
	public := r.FormValue("public") == "1"
	if !public {
		gid, err := strconv.ParseInt(r.FormValue("group_id"), 10, 64)
		if err != nil {
			writeError(w, &imagespec.InvalidParameterError{Field: "group_id", Reason: "required unless public=1"})
			return
		}
		groupID = sql.NullInt64{Int64: gid, Valid: true}
	}
	level, err := strconv.Atoi(r.FormValue("access_level"))
	if err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "access_level", Reason: "not an integer"})
		return
	}
	if err := s.store.SetFolderPermission(r.Context(), f.ID, groupID, public, permissions.AccessLevel(level)); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.perms.BumpVersion(r.Context()); err != nil {
		s.log.WithError(err).Warn("api: permission version bump failed")
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body store.TemplateRow
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "body", Reason: "invalid JSON"})
		return
	}
	body.Name = name
	id, err := s.store.UpsertTemplate(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTemplate(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePurgeDeletedFolder(w http.ResponseWriter, r *http.Request) {
	folderID, err := strconv.ParseInt(r.FormValue("folder_id"), 10, 64)
	if err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "folder_id", Reason: "not an integer"})
		return
	}
	id, err := s.queue.Submit(r.Context(), userNameFromRequest(r), "purge deleted folder", tasks.FuncPurgeDeletedFolder,
		tasks.PurgeDeletedFolderParams{FolderID: folderID}, tasks.PriorityNormal, 3600)
	if err != nil {
		if errors.Is(err, tasks.ErrAlreadySubmitted) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "AlreadyExists", "task_id": id})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"task_id": id})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "id", Reason: "not an integer"})
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, &notFoundError{chi.URLParam(r, "id")})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSourceStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		writeError(w, &imagespec.InvalidParameterError{Field: "sourceID", Reason: "not an integer"})
		return
	}
	totals, err := s.store.SourceStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func userIDFromRequest(r *http.Request) int64 {
	v := r.Header.Get("X-User-ID")
	if v == "" {
		return 0
	}
	id, _ := strconv.ParseInt(v, 10, 64)
	return id
}

func userNameFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-Name")
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func quoteETag(v string) string {
	if v == "" {
		return ""
	}
	return `"` + v + `"`
}

// cleanDoubleSlashes collapses repeated "/" ("/a//b/" -> "/a/b/");
// handleCreateFolder then trims the outer slashes, so §8 scenario 5's
// "/a//b/" comes back as "/a/b".
func cleanDoubleSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func parentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its §7 HTTP status and a short reason.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	var invalidErr *imagespec.InvalidParameterError
	var forbiddenErr *permissions.ForbiddenError
	var nf *notFoundError
	var mgrNotFound *imagemanager.NotFoundError
	var mgrImageErr *imagemanager.ImageError
	var secErr *blobstore.SecurityError

	switch {
	case errors.As(err, &invalidErr):
		status, msg = http.StatusBadRequest, invalidErr.Error()
	case errors.As(err, &forbiddenErr):
		status, msg = http.StatusForbidden, forbiddenErr.Error()
	case errors.As(err, &secErr):
		status, msg = http.StatusForbidden, secErr.Error()
	case errors.As(err, &nf):
		status, msg = http.StatusNotFound, nf.Error()
	case errors.As(err, &mgrNotFound):
		status, msg = http.StatusNotFound, mgrNotFound.Error()
	case errors.As(err, &mgrImageErr):
		status, msg = http.StatusUnsupportedMediaType, mgrImageErr.Error()
	case errors.Is(err, codec.ErrUnsupportedMedia):
		status, msg = http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, cache.ErrServerTooBusy):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, tasks.ErrAlreadySubmitted):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, store.ErrAlreadyExists):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, sql.ErrNoRows):
		status, msg = http.StatusNotFound, "not found"
	}
	http.Error(w, msg, status)
}
