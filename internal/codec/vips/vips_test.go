package vips

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Adjust/Dimensions/ProfileData all require a linked libvips and are not
// exercised here; these checks are limited to the adapter's pure
// capability-reporting contract, constructed without New() so no
// vips.Startup call (and therefore no libvips dependency) is needed.

func TestSupportedOperationsMatchesHighCapabilityBackend(t *testing.T) {
	a := &Adapter{}
	ops := a.SupportedOperations()

	for _, op := range []string{"width", "height", "rotation", "flip", "crop", "fill", "quality", "sharpen", "strip_metadata", "colorspace", "tile", "align", "overlay", "icc_profile"} {
		assert.True(t, ops[op], "expected %q supported", op)
	}
	assert.False(t, ops["dpi"])
}

func TestSupportedFileTypesIncludesWebpAndTiff(t *testing.T) {
	a := &Adapter{}
	types := a.SupportedFileTypes()

	for _, ext := range []string{"jpg", "jpeg", "png", "webp", "tif", "gif"} {
		assert.True(t, types[ext], "expected %q supported", ext)
	}
}

func TestBurstPDFReportsUnsupported(t *testing.T) {
	a := &Adapter{}
	ok, err := a.BurstPDF(context.Background(), nil, "", 0)
	assert.NoError(t, err)
	assert.False(t, ok)
}

// The following exercise pure placement/colour-parsing helpers that
// don't touch an *ImageRef, so they need no libvips linkage either.

func TestFillColorResolvesNamedAndHexColors(t *testing.T) {
	ok, c := fillColor("black")
	assert.True(t, ok)
	assert.Equal(t, uint8(0), c.R)

	ok, c = fillColor("#ff8000")
	assert.True(t, ok)
	assert.Equal(t, uint8(0xff), c.R)
	assert.Equal(t, uint8(0x80), c.G)
	assert.Equal(t, uint8(0x00), c.B)
	assert.Equal(t, uint8(255), c.A)
}

func TestFillColorNoneAndEmptyReportUnset(t *testing.T) {
	ok, _ := fillColor("")
	assert.False(t, ok)
	ok, _ = fillColor("none")
	assert.False(t, ok)
	ok, _ = fillColor("transparent")
	assert.False(t, ok)
}

func TestAlignOffsetHonoursEdgeLettersAndCenter(t *testing.T) {
	assert.Equal(t, 0, alignOffset("L0", 50, 100))
	assert.Equal(t, 50, alignOffset("R0", 50, 100))
	assert.Equal(t, 25, alignOffset("C0", 50, 100))
	assert.Equal(t, 25, alignOffset("", 50, 100))
	assert.Equal(t, 0, alignOffset("L0", 100, 100))
}

func TestOverlayPositionMapsNineWayGrid(t *testing.T) {
	x, y := overlayPosition("br", 100, 100, 20, 20)
	assert.Equal(t, 80, x)
	assert.Equal(t, 80, y)

	x, y = overlayPosition("tl", 100, 100, 20, 20)
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	x, y = overlayPosition("unknown", 100, 100, 20, 20)
	assert.Equal(t, 40, x)
	assert.Equal(t, 40, y)
}
