// Package imagemanager implements C11: the hot path that turns one
// (source, params) request into derivative bytes, orchestrating the
// fingerprint/normalisation layer (C4), the derivative cache (C3), the
// permission oracle (C7), the codec adapter (C1) and the stats sink
// (C8), per §4.4.
package imagemanager

import (
	"context"
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quru/imageserver/internal/cache"
	"github.com/quru/imageserver/internal/codec"
	"github.com/quru/imageserver/internal/icc"
	"github.com/quru/imageserver/internal/imagespec"
	"github.com/quru/imageserver/internal/permissions"
	"github.com/quru/imageserver/internal/stats"
	"github.com/quru/imageserver/internal/templates"
)

// BlobStore is the narrow contract consumed from C2.
type BlobStore interface {
	Read(p string) ([]byte, error)
	PathExists(p string, requireFile, requireDir bool) (bool, error)
}

// SourceStore is the narrow contract consumed from the relational store
// for resolving and invalidating source ids (§3 ImageSrcID).
type SourceStore interface {
	ResolveSource(ctx context.Context, srcPath string) (int64, bool, error)
	MarkImageDeleted(ctx context.Context, id int64) error
}

// Config carries the server-wide defaults and tunables the manager
// needs that are not themselves a collaborator component.
type Config struct {
	Defaults          imagespec.Defaults
	WaitBudget        time.Duration
	MaxBaseCandidates int
	PyramidMinPixels  int64
	DefaultExpirySeconds int
}

// Manager is C11.
type Manager struct {
	cfg Config

	codec     codec.Adapter
	cache     *cache.Store
	blobs     BlobStore
	templates *templates.Registry
	icc       *icc.Registry
	perms     *permissions.Oracle
	stats     *stats.Sink
	source    SourceStore
	scheduler Scheduler
	log       *logrus.Entry
}

func New(cfg Config, codecAdapter codec.Adapter, cacheStore *cache.Store, blobs BlobStore, tpls *templates.Registry, iccReg *icc.Registry, perms *permissions.Oracle, statsSink *stats.Sink, source SourceStore, scheduler Scheduler, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.MaxBaseCandidates <= 0 {
		cfg.MaxBaseCandidates = 100
	}
	return &Manager{
		cfg: cfg, codec: codecAdapter, cache: cacheStore, blobs: blobs,
		templates: tpls, icc: iccReg, perms: perms, stats: statsSink,
		source: source, scheduler: scheduler, log: log,
	}
}

// Request is one incoming image request (§6 "HTTP image request").
type Request struct {
	Source      string
	Query       url.Values
	UserID      int64
	IfNoneMatch string
	Attachment  bool
}

// Result carries everything the HTTP layer needs to write the response
// (§4.4 "Return value").
type Result struct {
	Bytes               []byte
	ContentType         string
	LastModified        time.Time
	ETag                string
	ClientExpirySeconds int
	Attachment          bool
	Filename            string
	FromCache           bool
	NotModified         bool
}

type metaRecord struct {
	ModUnix int64  `json:"m"`
	ETag    string `json:"e"`
}

// Serve implements the full §4.4 request flow.
func (m *Manager) Serve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	spec, err := imagespec.FromQuery(req.Source, 0, req.Query)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var tpl templates.Template
	var tplOK bool
	if name, ok := spec.Template.Get(); ok {
		tpl, tplOK = m.templates.Get(name)
		if !tplOK {
			return nil, &imagespec.InvalidParameterError{Field: "tmp", Reason: "unknown template " + name}
		}
		spec.ApplyTemplate(tpl.Spec, false)
	}
	spec.ApplyDefaults(m.cfg.Defaults)
	spec = spec.Normalise()

	sourceID, _, err := m.source.ResolveSource(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	spec.SourceID = sourceID

	folder := path.Dir(req.Source)
	if err := m.perms.HasFolder(ctx, folder, permissions.AccessView, req.UserID, false); err != nil {
		return nil, err
	}
	if ov, ok := spec.OverlaySrc.Get(); ok {
		if err := m.perms.HasFolder(ctx, path.Dir(ov), permissions.AccessView, req.UserID, false); err != nil {
			return nil, err
		}
	}

	metaKey := spec.MetadataFingerprint()
	if meta, ok := m.getMeta(metaKey); ok && req.IfNoneMatch != "" && req.IfNoneMatch == meta.ETag {
		return &Result{NotModified: true, ETag: meta.ETag, LastModified: time.Unix(meta.ModUnix, 0)}, nil
	}

	fp := spec.Fingerprint()
	if b, ok := m.cache.Get(fp); ok {
		if err := errorMarker(b); err != nil {
			return nil, err
		}
		return m.finish(ctx, spec, b, metaKey, true, req, tpl, tplOK, start)
	}

	waitBudget := m.cfg.WaitBudget
	if !m.cache.AcquireGeneration(fp, waitBudget) {
		b, err := m.cache.WaitForResult(ctx, fp, waitBudget)
		if err != nil {
			return nil, err
		}
		if err := errorMarker(b); err != nil {
			return nil, err
		}
		return m.finish(ctx, spec, b, metaKey, true, req, tpl, tplOK, start)
	}
	defer m.cache.ReleaseGeneration(fp)

	// Someone may have finished generating between our miss and our lock.
	if b, ok := m.cache.Get(fp); ok {
		if err := errorMarker(b); err != nil {
			return nil, err
		}
		return m.finish(ctx, spec, b, metaKey, true, req, tpl, tplOK, start)
	}

	baseBytes, baseSpec, fromOriginal, err := m.findBase(ctx, spec)
	if err != nil {
		return nil, err
	}

	if spec.Tile.IsSet() {
		baseBytes, baseSpec, err = m.ensureTileBase(ctx, spec, baseBytes, baseSpec)
		if err != nil {
			return nil, err
		}
	}

	out, err := m.adjust(ctx, baseBytes, baseSpec, spec)
	if err != nil {
		m.cache.Set(fp, []byte("*ERROR*"+err.Error()), cache.IndexFields{SourceID: spec.SourceID})
		return nil, err
	}

	m.store(spec, out, metaKey)

	if fromOriginal {
		originalPixels := int64(0)
		if dims, derr := m.codec.Dimensions(ctx, baseBytes, strings.TrimPrefix(path.Ext(spec.Source), ".")); derr == nil {
			originalPixels = int64(dims.Width) * int64(dims.Height)
		}
		m.maybeSchedulePyramid(ctx, spec, int64(len(baseBytes)), originalPixels)
	}

	return m.finish(ctx, spec, out, metaKey, false, req, tpl, tplOK, start)
}

func (m *Manager) getMeta(key string) (metaRecord, bool) {
	b, ok := m.cache.Get(key)
	if !ok {
		return metaRecord{}, false
	}
	var rec metaRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return metaRecord{}, false
	}
	return rec, true
}

// store inserts the derivative bytes, its metadata record and a JSON
// snapshot of its full spec (so later requests can use it as a base
// candidate) — the cache's "optional metadata blob" from §3/§4.3.
func (m *Manager) store(spec imagespec.Spec, out []byte, metaKey string) {
	fp := spec.Fingerprint()
	fields := cache.IndexFields{
		SourceID: spec.SourceID,
		AttrHash: int64(spec.AttributeHash()),
		Width:    int64(spec.Width.GetOr(0)),
		Height:   int64(spec.Height.GetOr(0)),
	}
	m.cache.Set(fp, out, fields)
	if snap, err := spec.MarshalSnapshot(); err == nil {
		m.cache.Set("SPEC:"+fp, snap, cache.IndexFields{})
	}
	rec := metaRecord{ModUnix: time.Now().Unix(), ETag: fp}
	if b, err := json.Marshal(rec); err == nil {
		m.cache.Set(metaKey, b, cache.IndexFields{})
	}
}

// findBase implements §4.4 step 7: search the cache for a reusable base
// image, falling back to the raw original.
func (m *Manager) findBase(ctx context.Context, target imagespec.Spec) ([]byte, imagespec.Spec, bool, error) {
	attrHash := int64(target.AttributeHash())
	minW, minH := int64(target.Width.GetOr(0)), int64(target.Height.GetOr(0))
	candidates := m.cache.SearchBase(target.SourceID, attrHash, minW, minH, m.cfg.MaxBaseCandidates)
	for _, key := range candidates {
		snapBytes, ok := m.cache.Get("SPEC:" + key)
		if !ok {
			continue
		}
		candSpec, err := imagespec.UnmarshalSnapshot(snapBytes)
		if err != nil {
			continue
		}
		if candSpec.SuitableFor(target) != imagespec.ReasonOK {
			continue
		}
		bytes, ok := m.cache.Get(key)
		if !ok || strings.HasPrefix(string(bytes), "*ERROR*") {
			continue
		}
		return bytes, candSpec, false, nil
	}

	exists, err := m.blobs.PathExists(target.Source, true, false)
	if err != nil {
		return nil, imagespec.Spec{}, false, err
	}
	if !exists {
		_ = m.source.MarkImageDeleted(ctx, target.SourceID)
		m.cache.InvalidateSource(target.SourceID)
		return nil, imagespec.Spec{}, false, &NotFoundError{Source: target.Source}
	}
	raw, err := m.blobs.Read(target.Source)
	if err != nil {
		return nil, imagespec.Spec{}, false, err
	}
	if len(raw) == 0 {
		return nil, imagespec.Spec{}, false, &ImageError{Message: "source is empty"}
	}
	orig := imagespec.Spec{Source: target.Source, SourceID: target.SourceID}
	return raw, orig, true, nil
}

// ensureTileBase implements §4.4 step 8: when no exact-size base exists
// for a tile request, synchronously generate and cache the untiled
// derivative at the tile's pixel size first.
func (m *Manager) ensureTileBase(ctx context.Context, target imagespec.Spec, baseBytes []byte, baseSpec imagespec.Spec) ([]byte, imagespec.Spec, error) {
	untiled := target
	untiled.Tile.Clear()
	if baseSpec.Tile.IsSet() {
		// findBase already matched an identical tile base (rule 10); reuse it.
		return baseBytes, baseSpec, nil
	}
	if baseSpec.Width.GetOr(-1) == untiled.Width.GetOr(-2) && baseSpec.Height.GetOr(-1) == untiled.Height.GetOr(-2) {
		return baseBytes, baseSpec, nil
	}
	doneMarker := "TILEBASE:" + untiled.Fingerprint()
	if b, ok := m.cache.Get(untiled.Fingerprint()); ok {
		return b, untiled, nil
	}
	if !m.cache.AtomicAdd(doneMarker, []byte{1}, 0) {
		// Another request is already generating it; fall through and let
		// adjust() work from the raw base — correctness holds either way,
		// this marker only prevents duplicate synchronous generation.
		return baseBytes, baseSpec, nil
	}
	out, err := m.adjust(ctx, baseBytes, baseSpec, untiled)
	if err != nil {
		return nil, imagespec.Spec{}, err
	}
	m.store(untiled, out, untiled.MetadataFingerprint())
	return out, untiled, nil
}

func (m *Manager) adjust(ctx context.Context, baseBytes []byte, baseSpec, target imagespec.Spec) ([]byte, error) {
	ops := codec.Operations{
		Width: target.Width.GetOr(0), Height: target.Height.GetOr(0),
		AlignH: strv(target.AlignH), AlignV: strv(target.AlignV),
		Rotation: target.Rotation.GetOr(0) - baseSpec.Rotation.GetOr(0),
		Flip:     diffFlip(baseSpec, target),
		Fill:     strv(target.Fill),
		Quality:  target.Quality.GetOr(0),
		Sharpen:  target.Sharpen.GetOr(0),
		OverlaySrc: strv(target.OverlaySrc),
		OverlayPos: strv(target.OverlayPos),
		OverlaySize: target.OverlaySize.GetOr(0),
		OverlayOpacity: target.OverlayOpacity.GetOr(0),
		ICCIntent: strv(target.ICCIntent),
		ICCBPC:    target.ICCBpc.GetOr(false),
		Colorspace: strv(target.Colorspace),
		StripMetadata: target.StripMetadata.GetOr(false),
		DPI:      target.DPI.GetOr(0),
		Format:   strv(target.Format),
	}
	if c, ok := target.Crop.Get(); ok {
		if bc, bok := baseSpec.Crop.Get(); !bok || bc != c {
			ops.CropTop, ops.CropLeft, ops.CropBottom, ops.CropRight = c.Top, c.Left, c.Bottom, c.Right
		}
	}
	if profile, ok := target.ICCProfile.Get(); ok {
		if b, ok2 := m.icc.Get(profile); ok2 {
			ops.ICCProfile = b
		}
	}
	if ov, ok := target.OverlaySrc.Get(); ok {
		if b, err := m.blobs.Read(ov); err == nil {
			ops.OverlayBytes = b
		}
	}
	if t, ok := target.Tile.Get(); ok {
		ops.Width, ops.Height = tileDimensions(target)
		// the base is already resized to the full untiled derivative by
		// ensureTileBase, so the tile's sub-region is a plain fractional
		// crop of it (row-major, 1-based index per imagespec.Spec.Validate).
		ops.CropTop, ops.CropLeft, ops.CropBottom, ops.CropRight = tileCropFractions(t)
	}
	return m.codec.Adjust(ctx, baseBytes, strings.TrimPrefix(path.Ext(target.Source), "."), ops)
}

func diffFlip(base, target imagespec.Spec) string {
	bf, tf := strv(base.Flip), strv(target.Flip)
	if bf == tf {
		return ""
	}
	return tf
}

// tileDimensions derives the pixel width/height of one tile from the
// target's already-resolved width/height (the full derivative's size)
// and its grid, assuming a square grid laid out row-major.
func tileDimensions(s imagespec.Spec) (int, int) {
	t, _ := s.Tile.Get()
	w, h := s.Width.GetOr(0), s.Height.GetOr(0)
	side := isqrtPublic(t.Grid)
	if side == 0 || w == 0 || h == 0 {
		return w, h
	}
	return w / side, h / side
}

// tileCropFractions derives the (top, left, bottom, right) fractional
// crop rectangle of one tile within the full untiled derivative, laid
// out row-major over a side x side grid (side = sqrt(Grid)).
func tileCropFractions(t imagespec.Tile) (top, left, bottom, right float64) {
	side := isqrtPublic(t.Grid)
	if side == 0 {
		return 0, 0, 1, 1
	}
	row := (t.Index - 1) / side
	col := (t.Index - 1) % side
	step := 1.0 / float64(side)
	return float64(row) * step, float64(col) * step, float64(row+1) * step, float64(col+1) * step
}

func isqrtPublic(n int) int {
	r := 0
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

func (m *Manager) finish(ctx context.Context, spec imagespec.Spec, out []byte, metaKey string, fromCache bool, req Request, tpl templates.Template, tplOK bool, start time.Time) (*Result, error) {
	meta, _ := m.getMeta(metaKey)
	res := &Result{
		Bytes: out, FromCache: fromCache,
		ContentType: contentType(strv(spec.Format), req.Source),
		ETag:        meta.ETag,
		Filename:    filename(req.Source, strv(spec.Format)),
	}
	if meta.ModUnix != 0 {
		res.LastModified = time.Unix(meta.ModUnix, 0)
	}
	res.ClientExpirySeconds = m.cfg.DefaultExpirySeconds
	recordStats := true
	if tplOK {
		res.ClientExpirySeconds = tpl.ClientExpirySeconds
		res.Attachment = tpl.Attachment
		recordStats = tpl.RecordStats
	}
	if req.Attachment {
		res.Attachment = true
	}

	elapsed := time.Since(start)
	if m.stats != nil {
		m.stats.LogRequest(spec.SourceID, elapsed)
		if recordStats {
			if res.Attachment {
				m.stats.LogDownload(spec.SourceID, int64(len(out)), elapsed)
			} else {
				m.stats.LogView(spec.SourceID, int64(len(out)), fromCache, elapsed)
			}
		}
	}
	return res, nil
}

func contentType(format, source string) string {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(path.Ext(source)), ".")
	}
	switch strings.ToLower(format) {
	case "jpg", "jpeg", "pjpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// errorMarker reports the ImageError if b is a cached "*ERROR*"-prefixed
// sentinel, per §4.4 step 9 and §7's propagation policy: codec errors
// are cached so repeat requests fail fast without re-entering the codec.
func errorMarker(b []byte) error {
	const prefix = "*ERROR*"
	if strings.HasPrefix(string(b), prefix) {
		return &ImageError{Message: strings.TrimPrefix(string(b), prefix)}
	}
	return nil
}

func filename(source, format string) string {
	base := path.Base(source)
	if format == "" {
		return base
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	return base + "." + format
}
