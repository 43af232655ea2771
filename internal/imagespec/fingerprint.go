package imagespec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// fixed field order for Fingerprint/MetadataFingerprint, per I7: the
// fingerprint depends only on source_id plus the set of non-default
// attributes, in a stable order so equal attribute sets always produce
// equal strings.
type tagged struct {
	tag   string
	value string
	set   bool
}

func (s Spec) fields() []tagged {
	f5 := func(v float64) string { return strconv.FormatFloat(v, 'f', 5, 64) }
	out := []tagged{
		{"pg", itoa(s.Page)},
		{"fmt", strv(s.Format)},
		{"w", itoa(s.Width)},
		{"h", itoa(s.Height)},
		{"ah", strv(s.AlignH)},
		{"av", strv(s.AlignV)},
		{"rot", floatv(s.Rotation, f5)},
		{"flip", strv(s.Flip)},
		{"crop", cropv(s.Crop, f5)},
		{"cf", boolv(s.CropFit)},
		{"sf", boolv(s.SizeFit)},
		{"fill", strv(s.Fill)},
		{"q", itoa(s.Quality)},
		{"shp", itoa(s.Sharpen)},
		{"ovs", strv(s.OverlaySrc)},
		{"ovp", strv(s.OverlayPos)},
		{"ovsz", floatv(s.OverlaySize, f5)},
		{"ovop", floatv(s.OverlayOpacity, f5)},
		{"icc", strv(s.ICCProfile)},
		{"int", strv(s.ICCIntent)},
		{"bpc", boolv(s.ICCBpc)},
		{"cs", strv(s.Colorspace)},
		{"strip", boolv(s.StripMetadata)},
		{"dpi", itoa(s.DPI)},
		{"tile", tilev(s.Tile)},
	}
	return out
}

// Fingerprint returns the deterministic cache key for this (already
// templated + normalised) spec. Preconditions per §4.1: SourceID > 0.
func (s Spec) Fingerprint() string {
	return s.keyWithPrefix("IMG")
}

// MetadataFingerprint returns the companion key used to store the small
// last-modified record for ETag/conditional-GET support (§4.3).
func (s Spec) MetadataFingerprint() string {
	return s.keyWithPrefix("META")
}

func (s Spec) keyWithPrefix(prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d", prefix, s.SourceID)
	for _, t := range s.fields() {
		if t.value == "" {
			continue
		}
		b.WriteByte('|')
		b.WriteString(t.tag)
		b.WriteByte('=')
		b.WriteString(t.value)
	}
	return b.String()
}

// AttributeHash groups cache candidates by (format, fill, tile-mode) so
// the index search in internal/cache can pre-filter before running
// SuitableFor against each candidate (§4.1 final paragraph).
func (s Spec) AttributeHash() uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%s|%v", strv(s.Format), strv(s.Fill), s.Tile.IsSet())
	return h.Sum64()
}

func itoa(o Opt[int]) string {
	v, ok := o.Get()
	if !ok {
		return ""
	}
	return strconv.Itoa(v)
}

func strv(o Opt[string]) string {
	v, ok := o.Get()
	if !ok {
		return ""
	}
	return v
}

func boolv(o Opt[bool]) string {
	v, ok := o.Get()
	if !ok {
		return ""
	}
	if v {
		return "1"
	}
	return "0"
}

func floatv(o Opt[float64], f func(float64) string) string {
	v, ok := o.Get()
	if !ok {
		return ""
	}
	return f(v)
}

func cropv(o Opt[Crop], f func(float64) string) string {
	c, ok := o.Get()
	if !ok {
		return ""
	}
	return f(c.Top) + "," + f(c.Left) + "," + f(c.Bottom) + "," + f(c.Right)
}

func tilev(o Opt[Tile]) string {
	t, ok := o.Get()
	if !ok {
		return ""
	}
	return strconv.Itoa(t.Index) + "/" + strconv.Itoa(t.Grid)
}
