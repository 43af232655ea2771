// Package vips implements codec.Adapter on top of libvips via
// github.com/davidbyttow/govips/v2, the high-capability backend referenced
// by §2 C1 ("at least one high-capability implementation"). govips keeps
// its own internal worker pool and is safe for concurrent use, satisfying
// §5's "codec adapter: thread-safe by contract" requirement without extra
// locking here.
package vips

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/quru/imageserver/internal/codec"
)

// colorspaces maps the normalised imagespec colourspace names (see
// imagespec.Normalise's alias table) onto libvips interpretations.
var colorspaces = map[string]vips.Interpretation{
	"rgb":  vips.InterpretationSRGB,
	"gray": vips.InterpretationBW,
	"cmyk": vips.InterpretationCMYK,
}

var namedColors = map[string]vips.ColorRGBA{
	"black": {R: 0, G: 0, B: 0, A: 255},
	"white": {R: 255, G: 255, B: 255, A: 255},
}

var startOnce sync.Once

// Adapter wraps govips. Callers must call Shutdown once at process exit.
type Adapter struct{}

func New() *Adapter {
	startOnce.Do(func() {
		vips.Startup(&vips.Config{
			ConcurrencyLevel: 0, // let libvips pick based on GOMAXPROCS
		})
	})
	return &Adapter{}
}

func (a *Adapter) Shutdown() { vips.Shutdown() }

func (a *Adapter) Adjust(ctx context.Context, imageBytes []byte, inputHint string, ops codec.Operations) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(imageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	defer img.Close()

	if ops.Flip == "h" {
		if err := img.Flip(vips.DirectionHorizontal); err != nil {
			return nil, err
		}
	} else if ops.Flip == "v" {
		if err := img.Flip(vips.DirectionVertical); err != nil {
			return nil, err
		}
	}

	if ops.Rotation != 0 {
		if err := img.Rotate(vips.Angle(int(ops.Rotation) % 360)); err != nil {
			return nil, err
		}
	}

	if ops.CropBottom > ops.CropTop && ops.CropRight > ops.CropLeft {
		w, h := img.Width(), img.Height()
		left := int(ops.CropLeft * float64(w))
		top := int(ops.CropTop * float64(h))
		cw := int((ops.CropRight - ops.CropLeft) * float64(w))
		ch := int((ops.CropBottom - ops.CropTop) * float64(h))
		if cw > 0 && ch > 0 {
			if err := img.ExtractArea(left, top, cw, ch); err != nil {
				return nil, err
			}
		}
	}

	if ops.Width > 0 || ops.Height > 0 {
		if err := img.Thumbnail(maxInt(ops.Width, 1), maxInt(ops.Height, 1), vips.InterestingNone); err != nil {
			return nil, err
		}
		if fillOK, bg := fillColor(ops.Fill); fillOK && ops.Width > 0 && ops.Height > 0 &&
			(img.Width() != ops.Width || img.Height() != ops.Height) {
			left := alignOffset(ops.AlignH, img.Width(), ops.Width)
			top := alignOffset(ops.AlignV, img.Height(), ops.Height)
			if err := img.EmbedBackground(left, top, ops.Width, ops.Height, &bg); err != nil {
				return nil, err
			}
		}
	}

	if len(ops.OverlayBytes) > 0 {
		if err := compositeOverlay(img, ops); err != nil {
			return nil, err
		}
	}

	if ops.Sharpen != 0 {
		sigma := float64(ops.Sharpen) / 100.0
		if sigma < 0 {
			sigma = -sigma
		}
		if err := img.Sharpen(sigma, 1.0, 2.0); err != nil {
			return nil, err
		}
	}

	if interp, ok := colorspaces[strings.ToLower(ops.Colorspace)]; ok {
		if err := img.ToColorSpace(interp); err != nil {
			return nil, err
		}
	}

	if len(ops.ICCProfile) > 0 {
		// rendering intent and black-point-compensation are matched for
		// base suitability (suitability.go) but are not themselves
		// parameterised by govips' ICCTransform, which always applies its
		// default perceptual intent.
		if err := img.ICCTransform(ops.ICCProfile); err != nil {
			return nil, err
		}
	}

	if ops.StripMetadata {
		img.RemoveMetadata()
	}

	ep := vips.NewDefaultJPEGExportParams()
	if ops.Quality > 0 {
		ep.Quality = ops.Quality
	}
	var out []byte
	switch strings.ToLower(ops.Format) {
	case "png":
		pep := vips.NewDefaultPNGExportParams()
		out, _, err = img.ExportPng(pep)
	case "webp":
		wep := vips.NewDefaultWEBPExportParams()
		if ops.Quality > 0 {
			wep.Quality = ops.Quality
		}
		out, _, err = img.ExportWebp(wep)
	default:
		out, _, err = img.ExportJpeg(ep)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	return out, nil
}

func (a *Adapter) Dimensions(ctx context.Context, imageBytes []byte, inputHint string) (codec.Dimensions, error) {
	img, err := vips.NewImageFromBuffer(imageBytes)
	if err != nil {
		return codec.Dimensions{}, fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	defer img.Close()
	return codec.Dimensions{Width: img.Width(), Height: img.Height()}, nil
}

func (a *Adapter) ProfileData(ctx context.Context, imageBytes []byte, inputHint string) ([]codec.ProfileEntry, error) {
	img, err := vips.NewImageFromBuffer(imageBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	defer img.Close()
	var out []codec.ProfileEntry
	for _, f := range img.ImageFields() {
		out = append(out, codec.ProfileEntry{Profile: "vips", Key: f})
	}
	return out, nil
}

// BurstPDF is unsupported here and always reports false: govips's PDF
// loader requires a build-time magick/poppler dependency this pack does
// not exercise elsewhere. The burst_pdf task handler records that result
// as an "unsupported" task failure.
func (a *Adapter) BurstPDF(ctx context.Context, imageBytes []byte, destDir string, dpi int) (bool, error) {
	return false, nil
}

func (a *Adapter) SupportedOperations() map[string]bool {
	return map[string]bool{
		"width": true, "height": true, "rotation": true, "flip": true,
		"crop": true, "fill": true, "quality": true, "sharpen": true,
		"strip_metadata": true, "colorspace": true, "overlay": true,
		"icc_profile": true, "align": true, "tile": true,
		// DPI only matters for rasterising a PDF base at a given density;
		// this backend has no PDF loader wired (see BurstPDF above), so
		// there is never a base to apply it to.
		"dpi": false,
	}
}

// fillColor resolves a fill operation's colour name to a libvips RGBA
// value. "" and "none"/"transparent" (see imagespec.Normalise) report no
// fill at all, so the caller can leave the thumbnail unpadded.
func fillColor(name string) (bool, vips.ColorRGBA) {
	if name == "" {
		return false, vips.ColorRGBA{}
	}
	lc := strings.ToLower(name)
	if lc == "none" || lc == "transparent" {
		return false, vips.ColorRGBA{}
	}
	if c, ok := namedColors[lc]; ok {
		return true, c
	}
	if c, ok := parseHexColor(name); ok {
		return true, c
	}
	return false, vips.ColorRGBA{}
}

func parseHexColor(s string) (vips.ColorRGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 && len(s) != 8 {
		return vips.ColorRGBA{}, false
	}
	hex := func(sub string) (uint8, bool) {
		v, err := strconv.ParseUint(sub, 16, 8)
		return uint8(v), err == nil
	}
	r, ok1 := hex(s[0:2])
	g, ok2 := hex(s[2:4])
	b, ok3 := hex(s[4:6])
	if !ok1 || !ok2 || !ok3 {
		return vips.ColorRGBA{}, false
	}
	a := uint8(255)
	if len(s) == 8 {
		if av, ok := hex(s[6:8]); ok {
			a = av
		}
	}
	return vips.ColorRGBA{R: r, G: g, B: b, A: a}, true
}

// alignOffset places content of contentSize within boxSize along one
// axis, per an ImageSpec align value of the form "<L|C|R|T|M|B><offset>"
// (see imagespec.alignRe): the letter picks the base edge, the optional
// trailing number nudges it by that fraction of the remaining slack.
func alignOffset(align string, contentSize, boxSize int) int {
	slack := boxSize - contentSize
	if slack <= 0 {
		return 0
	}
	if align == "" {
		return slack / 2
	}
	letter := strings.ToUpper(align[:1])
	offset := 0.0
	if len(align) > 1 {
		if f, err := strconv.ParseFloat(align[1:], 64); err == nil {
			offset = f
		}
	}
	var base int
	switch letter {
	case "L", "T":
		base = 0
	case "R", "B":
		base = slack
	default:
		base = slack / 2
	}
	base += int(offset * float64(slack))
	if base < 0 {
		base = 0
	}
	if base > slack {
		base = slack
	}
	return base
}

// compositeOverlay decodes, scales and positions a watermark/overlay
// image over img in place, per ops.OverlaySrc/OverlayPos/OverlaySize/
// OverlayOpacity (§3 "overlay").
func compositeOverlay(img *vips.ImageRef, ops codec.Operations) error {
	overlay, err := vips.NewImageFromBuffer(ops.OverlayBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	defer overlay.Close()

	if ops.OverlaySize > 0 {
		w := maxInt(int(ops.OverlaySize*float64(img.Width())), 1)
		h := maxInt(int(ops.OverlaySize*float64(img.Height())), 1)
		if err := overlay.Thumbnail(w, h, vips.InterestingNone); err != nil {
			return err
		}
	}
	if ops.OverlayOpacity > 0 && ops.OverlayOpacity < 1 {
		if err := overlay.Linear([]float64{1, 1, 1, ops.OverlayOpacity}, []float64{0, 0, 0, 0}); err != nil {
			return err
		}
	}

	x, y := overlayPosition(ops.OverlayPos, img.Width(), img.Height(), overlay.Width(), overlay.Height())
	return img.Composite(overlay, vips.BlendModeOver, x, y)
}

// overlayPosition maps a free-form 9-way position token ("tl", "top",
// "bottom-right", ...) onto pixel coordinates; unrecognised values
// centre the overlay.
func overlayPosition(pos string, boxW, boxH, ovW, ovH int) (x, y int) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(pos), "-", ""))
	hAlign, vAlign := "c", "c"
	switch key {
	case "tl", "topleft":
		hAlign, vAlign = "l", "t"
	case "tc", "top":
		vAlign = "t"
	case "tr", "topright":
		hAlign, vAlign = "r", "t"
	case "cl", "left":
		hAlign = "l"
	case "cr", "right":
		hAlign = "r"
	case "bl", "bottomleft":
		hAlign, vAlign = "l", "b"
	case "bc", "bottom":
		vAlign = "b"
	case "br", "bottomright":
		hAlign, vAlign = "r", "b"
	}
	return edgeOffset(hAlign, ovW, boxW), edgeOffset(vAlign, ovH, boxH)
}

func edgeOffset(align string, contentSize, boxSize int) int {
	slack := boxSize - contentSize
	if slack < 0 {
		slack = 0
	}
	switch align {
	case "l", "t":
		return 0
	case "r", "b":
		return slack
	default:
		return slack / 2
	}
}

func (a *Adapter) SupportedFileTypes() map[string]bool {
	return map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true, "tif": true, "gif": true}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
