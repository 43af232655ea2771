package imagespec

import (
	"math"
	"path/filepath"
	"strings"
)

var formatAliases = map[string]string{
	"srgb":   "rgb",
	"grey":   "gray",
	"pjpeg":  "pjpg",
}

var colorspaceAliases = map[string]string{
	"srgb": "rgb",
	"grey": "gray",
}

// Normalise applies invariants I2-I6 and returns a new, idempotent Spec
// (I1: Normalise(Normalise(s)) == Normalise(s)).
func (s Spec) Normalise() Spec {
	out := s

	// §3: width=0/height=0 mean "unspecified"; fold to unset so a request
	// carrying the literal zero fingerprints identically to an equivalent
	// request that omits the parameter (I7).
	if v, ok := out.Width.Get(); ok && v == 0 {
		out.Width.Clear()
	}
	if v, ok := out.Height.Get(); ok && v == 0 {
		out.Height.Clear()
	}

	// I3: colour-model / format aliases collapse to their canonical name.
	if v, ok := out.Format.Get(); ok {
		if alias, hit := formatAliases[strings.ToLower(v)]; hit {
			out.Format.Set(alias)
		} else {
			out.Format.Set(strings.ToLower(v))
		}
	}
	if v, ok := out.Colorspace.Get(); ok {
		if alias, hit := colorspaceAliases[strings.ToLower(v)]; hit {
			out.Colorspace.Set(alias)
		} else {
			out.Colorspace.Set(strings.ToLower(v))
		}
	}

	// I2: rotation of 0 or +/-360 is a no-op.
	if v, ok := out.Rotation.Get(); ok {
		m := math.Mod(v, 360)
		if m == 0 {
			out.Rotation.Clear()
		} else {
			out.Rotation.Set(m)
		}
	}

	// I4: rotate 180 + flip v === flip h. Rewrite the former to the latter
	// so cache keys collapse onto a single canonical form.
	if rot, rok := out.Rotation.Get(); rok && math.Abs(rot) == 180 {
		if flip, fok := out.Flip.Get(); fok && flip == "v" {
			out.Rotation.Clear()
			out.Flip.Set("h")
		}
	}

	// I2: crop rectangle (0,0,1,1) is a no-op.
	if c, ok := out.Crop.Get(); ok {
		if c.Top == 0 && c.Left == 0 && c.Bottom == 1 && c.Right == 1 {
			out.Crop.Clear()
		}
	}

	// I6: tile with grid_size < 2 is meaningless, clear it.
	if t, ok := out.Tile.Get(); ok && t.Grid < 2 {
		out.Tile.Clear()
	}

	// I2: format equal to the source extension is a no-op.
	if fmtVal, ok := out.Format.Get(); ok {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(out.Source)), ".")
		if ext != "" && ext == fmtVal {
			out.Format.Clear()
		}
	}

	// I2: "white" fill is the implicit default and is cleared...
	if v, ok := out.Fill.Get(); ok && strings.EqualFold(v, "white") {
		out.Fill.Clear()
	}

	// I5: fill cannot visibly apply unless there is padding (a size_fit
	// or crop_fit with mismatched aspect) or a rotation; clear it otherwise.
	if _, ok := out.Fill.Get(); ok {
		sizeFit := out.SizeFit.GetOr(false)
		cropFit := out.CropFit.GetOr(false)
		_, hasRot := out.Rotation.Get()
		if !sizeFit && !cropFit && !hasRot {
			out.Fill.Clear()
		}
	}

	// I2: aligns only steer gravity within size_fit padding (see
	// suitability.go's padding-mismatch rule); with no size_fit they are
	// identity no-ops and must be cleared to keep the fingerprint stable.
	if !out.SizeFit.GetOr(false) {
		out.AlignH.Clear()
		out.AlignV.Clear()
	}

	// "none"/"transparent" fill is semantically "no fill colour": keep the
	// value (format adapters need to tell "unset" from "explicitly none")
	// but canonicalise its spelling.
	if v, ok := out.Fill.Get(); ok {
		lv := strings.ToLower(v)
		if lv == "none" || lv == "transparent" {
			out.Fill.Set("none")
		}
	}

	return out
}
