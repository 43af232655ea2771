package imagespec

import (
	"math"
	"path"
	"strings"
)

// Reason is a base-image suitability rejection code. Zero means suitable.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonDifferentSource
	ReasonDifferentFormatOrFill
	ReasonBaseSharpened
	ReasonAspectMismatch
	ReasonQualityTooLow
	ReasonTooSmall
	ReasonAttributeMismatch
	ReasonOverlayNotReusable
	ReasonCropMismatch
	ReasonTileMismatch
	ReasonPipelineOrder
	ReasonPaddingMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonDifferentSource:
		return "different source or page"
	case ReasonDifferentFormatOrFill:
		return "different format or fill"
	case ReasonBaseSharpened:
		return "base is already sharpened"
	case ReasonAspectMismatch:
		return "aspect ratio mismatch"
	case ReasonQualityTooLow:
		return "base quality is lower than target"
	case ReasonTooSmall:
		return "base is smaller than target"
	case ReasonAttributeMismatch:
		return "flip/rotation/crop/icc/colorspace/strip/dpi/overlay mismatch"
	case ReasonOverlayNotReusable:
		return "overlay cannot be reapplied downstream"
	case ReasonCropMismatch:
		return "partial crop cannot be extended"
	case ReasonTileMismatch:
		return "tile base may only serve the identical tile"
	case ReasonPipelineOrder:
		return "flip/rotate/crop pipeline order violated"
	case ReasonPaddingMismatch:
		return "size-fit/align padding mismatch"
	}
	return "unknown"
}

// SuitableFor implements base.suitable_for(target) from §4.1: can the
// bytes for `base` (the receiver) be reused as the starting point to
// produce `target`? Returns ReasonOK (0) if so, else the first rule
// that disqualifies it.
func (base Spec) SuitableFor(target Spec) Reason {
	// 1. Same source and page.
	if base.Source != target.Source || base.Page.GetOr(1) != target.Page.GetOr(1) {
		return ReasonDifferentSource
	}

	// 2. Same output format and fill; a lossy base cannot produce a
	// lossless target.
	if strv(base.Format) != strv(target.Format) || strv(base.Fill) != strv(target.Fill) {
		return ReasonDifferentFormatOrFill
	}

	// 3. Base must not already be sharpened — sharpening is not
	// idempotent, so this disqualifies unconditionally even when the
	// sharpen values match (per the Open Question in §9, preserved).
	if base.Sharpen.IsSet() {
		return ReasonBaseSharpened
	}

	// 4. Aspect ratios match (rounded to 2dp) or both are unsized.
	bw, bwok := base.Width.Get()
	bh, bhok := base.Height.Get()
	tw, twok := target.Width.Get()
	th, thok := target.Height.Get()
	baseSized := bwok || bhok
	targetSized := twok || thok
	if baseSized != targetSized {
		return ReasonAspectMismatch
	}
	if baseSized && targetSized && bw > 0 && bh > 0 && tw > 0 && th > 0 {
		ba := math.Round(float64(bw)/float64(bh)*100) / 100
		ta := math.Round(float64(tw)/float64(th)*100) / 100
		if ba != ta {
			return ReasonAspectMismatch
		}
	}

	// 5. Base quality >= target quality (unset treated as 101: a raw
	// original can never be surpassed).
	bq := base.Quality.GetOr(101)
	tq := target.Quality.GetOr(101)
	if bq < tq {
		return ReasonQualityTooLow
	}

	// 6. Base width/height >= target width/height (unset = +Inf).
	bwv := base.Width.GetOr(math.MaxInt)
	bhv := base.Height.GetOr(math.MaxInt)
	twv := target.Width.GetOr(math.MaxInt)
	thv := target.Height.GetOr(math.MaxInt)
	if bwv < twv || bhv < thv {
		return ReasonTooSmall
	}

	// 9. Overlay present on base is only allowed when target is a tile
	// of that same overlaid image.
	if base.OverlaySrc.IsSet() {
		if !target.Tile.IsSet() || strv(base.OverlaySrc) != strv(target.OverlaySrc) {
			return ReasonOverlayNotReusable
		}
	} else if target.OverlaySrc.IsSet() && !target.Tile.IsSet() {
		// target wants an overlay the base doesn't have and isn't a tile
		// of an overlaid base: the base stays usable, and the target's
		// overlay is applied on top of it like any other missing operation.
	}

	// 11. Pipeline ordering: flip -> rotate -> crop. If target needs a
	// flip, base must not already be rotated or cropped. If target needs
	// a rotation, base must not already be cropped.
	if target.Flip.IsSet() && (base.Rotation.IsSet() || base.Crop.IsSet()) {
		return ReasonPipelineOrder
	}
	if target.Rotation.IsSet() && base.Crop.IsSet() {
		return ReasonPipelineOrder
	}

	// 7/8. Flip, rotation, ICC, colorspace, strip and DPI (PDF sources
	// only) must match exactly if present on the base (overlay is rule 9);
	// crop matching is "identical crop or no crop at all" on the base side.
	if base.Flip.IsSet() && strv(base.Flip) != strv(target.Flip) {
		return ReasonAttributeMismatch
	}
	if base.Rotation.IsSet() && base.Rotation.GetOr(0) != target.Rotation.GetOr(0) {
		return ReasonAttributeMismatch
	}
	if base.ICCProfile.IsSet() && strv(base.ICCProfile) != strv(target.ICCProfile) {
		return ReasonAttributeMismatch
	}
	if base.ICCIntent.IsSet() && strv(base.ICCIntent) != strv(target.ICCIntent) {
		return ReasonAttributeMismatch
	}
	if base.ICCBpc.IsSet() && base.ICCBpc.GetOr(false) != target.ICCBpc.GetOr(false) {
		return ReasonAttributeMismatch
	}
	if base.Colorspace.IsSet() && strv(base.Colorspace) != strv(target.Colorspace) {
		return ReasonAttributeMismatch
	}
	if base.StripMetadata.IsSet() && base.StripMetadata.GetOr(false) != target.StripMetadata.GetOr(false) {
		return ReasonAttributeMismatch
	}
	isPDF := strings.EqualFold(path.Ext(base.Source), ".pdf")
	if isPDF && base.DPI.IsSet() && base.DPI.GetOr(0) != target.DPI.GetOr(0) {
		return ReasonAttributeMismatch
	}

	if base.Crop.IsSet() {
		bc, _ := base.Crop.Get()
		tc, tok := target.Crop.Get()
		if !tok || bc != tc {
			return ReasonCropMismatch
		}
	}

	// 10. A tile base may only serve the identical tile spec.
	if base.Tile.IsSet() {
		bt, _ := base.Tile.Get()
		tt, tok := target.Tile.Get()
		if !tok || bt != tt {
			return ReasonTileMismatch
		}
	}

	// 12. If size-fit or aligns may affect padding, they must match.
	if base.SizeFit.GetOr(false) || target.SizeFit.GetOr(false) {
		if base.SizeFit.GetOr(false) != target.SizeFit.GetOr(false) {
			return ReasonPaddingMismatch
		}
		if strv(base.AlignH) != strv(target.AlignH) || strv(base.AlignV) != strv(target.AlignV) {
			return ReasonPaddingMismatch
		}
	}

	return ReasonOK
}
