package imagemanager

import (
	"context"
	"fmt"

	"github.com/quru/imageserver/internal/imagespec"
)

// pyramidMaxCacheFraction is the cache-size gate of §4.5;
// maybeSchedulePyramid checks it together with the tile-request,
// no-overlay and m.cfg.PyramidMinPixels gates.
const pyramidMaxCacheFraction = 0.05

// Scheduler enqueues the background pre-computation task described in
// §4.5. It is the narrow contract imagemanager consumes from
// internal/tasks, kept separate so tests can stub it out.
type Scheduler interface {
	ScheduleBuildPyramid(ctx context.Context, sourceID int64, source string, format string) error
}

// maybeSchedulePyramid implements the gating conditions of §4.5: all
// must hold before a pyramid build task is scheduled, and the "done"
// marker is set with atomic-add so concurrent requests elect exactly
// one scheduler.
func (m *Manager) maybeSchedulePyramid(ctx context.Context, target imagespec.Spec, originalSize int64, originalPixels int64) {
	if m.scheduler == nil {
		return
	}
	if !target.Tile.IsSet() {
		return
	}
	if target.OverlaySrc.IsSet() {
		return
	}
	if originalPixels < m.cfg.PyramidMinPixels {
		return
	}
	capBytes, _ := m.cache.Stats()
	if capBytes > 0 && float64(originalSize) >= float64(capBytes)*pyramidMaxCacheFraction {
		return
	}
	marker := fmt.Sprintf("PYRAMID:%d:%s", target.SourceID, strv(target.Format))
	if !m.cache.AtomicAdd(marker, []byte{1}, 0) {
		return
	}
	if err := m.scheduler.ScheduleBuildPyramid(ctx, target.SourceID, target.Source, strv(target.Format)); err != nil {
		m.log.WithError(err).Warn("imagemanager: failed to schedule pyramid build")
	}
}

func strv(o imagespec.Opt[string]) string {
	v, _ := o.Get()
	return v
}

// pyramidLevels are the progressively smaller derivative widths §4.5
// pre-computes once gated, widest first. BuildPyramid renders every level
// from the raw original, not from the previous level.
var pyramidLevels = []int{2000, 1000, 500, 250}

// BuildPyramid runs the deferred work enqueued by maybeSchedulePyramid:
// it fetches the raw original once and generates each pyramid level as
// an ordinary tile-mode-free, untiled derivative, so later tile/thumb
// requests find them through the normal findBase search.
func (m *Manager) BuildPyramid(ctx context.Context, sourceID int64, source, format string) error {
	raw, err := m.blobs.Read(source)
	if err != nil {
		return err
	}
	for _, width := range pyramidLevels {
		level := imagespec.Spec{Source: source, SourceID: sourceID}
		level.Width.Set(width)
		if format != "" {
			level.Format.Set(format)
		}
		level.ApplyDefaults(m.cfg.Defaults)
		level = level.Normalise()

		fp := level.Fingerprint()
		if _, ok := m.cache.Get(fp); ok {
			continue
		}
		orig := imagespec.Spec{Source: source, SourceID: sourceID}
		out, err := m.adjust(ctx, raw, orig, level)
		if err != nil {
			m.log.WithError(err).WithField("width", width).Warn("imagemanager: pyramid level failed")
			continue
		}
		m.store(level, out, level.MetadataFingerprint())
	}
	return nil
}
