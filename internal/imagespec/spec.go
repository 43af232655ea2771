// Package imagespec implements C4: the ImageSpec value object, its
// validation, template/defaults merging, normalisation and fingerprint.
//
// Its only dependency beyond the standard library is
// github.com/cespare/xxhash/v2, which fingerprint.go uses for the
// attribute hash — see SPEC_FULL.md §4.1.
package imagespec

import (
	"fmt"
	"regexp"
)

// Crop is the (top, left, bottom, right) crop rectangle, each in [0,1].
type Crop struct {
	Top, Left, Bottom, Right float64
}

// Tile addresses a rectangular sub-region as (index, grid size), where
// grid size is a perfect square.
type Tile struct {
	Index int
	Grid  int
}

// Spec is the normalised set of transformation attributes for one
// derivative, plus the identity of its source.
type Spec struct {
	Source   string
	SourceID int64

	Page     Opt[int]
	Format   Opt[string]
	Template Opt[string]

	Width  Opt[int]
	Height Opt[int]

	AlignH Opt[string]
	AlignV Opt[string]

	Rotation Opt[float64]
	Flip     Opt[string]

	Crop    Opt[Crop]
	CropFit Opt[bool]
	SizeFit Opt[bool]

	Fill    Opt[string]
	Quality Opt[int]
	Sharpen Opt[int]

	OverlaySrc     Opt[string]
	OverlayPos     Opt[string]
	OverlaySize    Opt[float64]
	OverlayOpacity Opt[float64]

	ICCProfile Opt[string]
	ICCIntent  Opt[string]
	ICCBpc     Opt[bool]

	Colorspace Opt[string]

	StripMetadata Opt[bool]
	DPI           Opt[int]

	Tile Opt[Tile]
}

// InvalidParameterError signals a field failing its range/enum check.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &InvalidParameterError{Field: field, Reason: reason}
}

var alignRe = regexp.MustCompile(`^[A-Za-z]\d*(\.\d+)?$`)

var validIntents = map[string]bool{
	"saturation": true, "perceptual": true, "absolute": true, "relative": true,
}

var validColorspaces = map[string]bool{
	"rgb": true, "gray": true, "cmyk": true,
	// pre-normalisation aliases, collapsed by Normalise (I3)
	"srgb": true, "grey": true,
}

// validator is one entry of the validators table described in DESIGN
// NOTES §9: a named field plus the function that checks it.
type validator struct {
	field string
	check func(s *Spec) error
}

func validators() []validator {
	return []validator{
		{"page", func(s *Spec) error {
			if v, ok := s.Page.Get(); ok && v < 1 {
				return invalid("page", "must be >= 1")
			}
			return nil
		}},
		{"width", func(s *Spec) error {
			if v, ok := s.Width.Get(); ok && v < 0 {
				return invalid("width", "must be >= 0")
			}
			return nil
		}},
		{"height", func(s *Spec) error {
			if v, ok := s.Height.Get(); ok && v < 0 {
				return invalid("height", "must be >= 0")
			}
			return nil
		}},
		{"halign", func(s *Spec) error {
			if v, ok := s.AlignH.Get(); ok && !alignRe.MatchString(v) {
				return invalid("halign", "expected edge-letter + fractional position, e.g. L0.5")
			}
			return nil
		}},
		{"valign", func(s *Spec) error {
			if v, ok := s.AlignV.Get(); ok && !alignRe.MatchString(v) {
				return invalid("valign", "expected edge-letter + fractional position, e.g. T0.5")
			}
			return nil
		}},
		{"angle", func(s *Spec) error {
			if v, ok := s.Rotation.Get(); ok && (v < -360 || v > 360) {
				return invalid("angle", "must be in [-360, 360]")
			}
			return nil
		}},
		{"flip", func(s *Spec) error {
			if v, ok := s.Flip.Get(); ok && v != "h" && v != "v" {
				return invalid("flip", `must be "h" or "v"`)
			}
			return nil
		}},
		{"crop", func(s *Spec) error {
			c, ok := s.Crop.Get()
			if !ok {
				return nil
			}
			for _, v := range []float64{c.Top, c.Left, c.Bottom, c.Right} {
				if v < 0 || v > 1 {
					return invalid("crop", "components must be in [0,1]")
				}
			}
			if c.Bottom < c.Top || c.Right < c.Left {
				return invalid("crop", "bottom/right must be >= top/left")
			}
			return nil
		}},
		{"quality", func(s *Spec) error {
			if v, ok := s.Quality.Get(); ok && (v < 1 || v > 100) {
				return invalid("quality", "must be in [1,100]")
			}
			return nil
		}},
		{"sharpen", func(s *Spec) error {
			if v, ok := s.Sharpen.Get(); ok && (v < -500 || v > 500) {
				return invalid("sharpen", "must be in [-500,500]")
			}
			return nil
		}},
		{"ovsize", func(s *Spec) error {
			if v, ok := s.OverlaySize.Get(); ok && (v < 0 || v > 1) {
				return invalid("ovsize", "must be in [0,1]")
			}
			return nil
		}},
		{"ovopacity", func(s *Spec) error {
			if v, ok := s.OverlayOpacity.Get(); ok && (v < 0 || v > 1) {
				return invalid("ovopacity", "must be in [0,1]")
			}
			return nil
		}},
		{"intent", func(s *Spec) error {
			if v, ok := s.ICCIntent.Get(); ok && !validIntents[v] {
				return invalid("intent", "must be one of saturation, perceptual, absolute, relative")
			}
			return nil
		}},
		{"colorspace", func(s *Spec) error {
			if v, ok := s.Colorspace.Get(); ok && !validColorspaces[v] {
				return invalid("colorspace", "must be one of rgb, gray, cmyk")
			}
			return nil
		}},
		{"dpi", func(s *Spec) error {
			if v, ok := s.DPI.Get(); ok && v < 0 {
				return invalid("dpi", "must be >= 0")
			}
			return nil
		}},
		{"tile", func(s *Spec) error {
			t, ok := s.Tile.Get()
			if !ok {
				return nil
			}
			if t.Grid < 2 {
				// Cleared by Normalise (I6); a constructor-time value this
				// small is still a caller error, not silently accepted.
				return invalid("tile", "grid size must be >= 2")
			}
			root := isqrt(t.Grid)
			if root*root != t.Grid {
				return invalid("tile", "grid size must be a perfect square")
			}
			if t.Index < 1 || t.Index > t.Grid {
				return invalid("tile", "index must be in [1, grid]")
			}
			return nil
		}},
	}
}

func isqrt(n int) int {
	if n < 0 {
		return -1
	}
	r := 0
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// Validate runs every validator in the table, returning the first failure.
func (s *Spec) Validate() error {
	if s.Source == "" {
		return invalid("src", "source path is required")
	}
	for _, v := range validators() {
		if err := v.check(s); err != nil {
			return err
		}
	}
	return nil
}
