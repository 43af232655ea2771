package stdimage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quru/imageserver/internal/codec"
)

// redBluePNG builds a 4x2 image whose left half is red and right half
// is blue, encoded as PNG bytes.
func redBluePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if x < 2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	return img
}

func TestDimensionsReadsDecodeConfig(t *testing.T) {
	a := New()
	dims, err := a.Dimensions(context.Background(), redBluePNG(t), "png")
	require.NoError(t, err)
	assert.Equal(t, 4, dims.Width)
	assert.Equal(t, 2, dims.Height)
}

func TestDimensionsOnGarbageReturnsUnsupportedMedia(t *testing.T) {
	a := New()
	_, err := a.Dimensions(context.Background(), []byte("not an image"), "")
	assert.ErrorIs(t, err, codec.ErrUnsupportedMedia)
}

func TestAdjustResizeChangesDimensions(t *testing.T) {
	a := New()
	out, err := a.Adjust(context.Background(), redBluePNG(t), "png", codec.Operations{Width: 2, Height: 1, Format: "png"})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 1, img.Bounds().Dy())
}

func TestAdjustFlipHorizontalSwapsLeftAndRight(t *testing.T) {
	a := New()
	out, err := a.Adjust(context.Background(), redBluePNG(t), "png", codec.Operations{Flip: "h", Format: "png"})
	require.NoError(t, err)

	img := decodePNG(t, out)
	// original left (red) column is now at the far right, and vice versa
	_, _, leftBlue, _ := img.At(0, 0).RGBA()
	rightRed, _, _, _ := img.At(3, 0).RGBA()
	assert.NotZero(t, leftBlue)
	assert.NotZero(t, rightRed)
}

func TestAdjustRotate180FlipsBothAxes(t *testing.T) {
	a := New()
	out, err := a.Adjust(context.Background(), redBluePNG(t), "png", codec.Operations{Rotation: 180, Format: "png"})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	// after a 180 rotation the original left-red region is now on the right
	_, _, blueAtLeft, _ := img.At(0, 0).RGBA()
	redAtRight, _, _, _ := img.At(3, 0).RGBA()
	assert.NotZero(t, blueAtLeft)
	assert.NotZero(t, redAtRight)
}

func TestAdjustCropNarrowsBounds(t *testing.T) {
	a := New()
	out, err := a.Adjust(context.Background(), redBluePNG(t), "png", codec.Operations{
		CropTop: 0, CropLeft: 0, CropBottom: 1, CropRight: 0.5, Format: "png",
	})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestAdjustEncodesRequestedFormat(t *testing.T) {
	a := New()
	out, err := a.Adjust(context.Background(), redBluePNG(t), "png", codec.Operations{Format: "jpeg"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte{0xFF, 0xD8}), "expected a JPEG SOI marker")
}

func TestAdjustOnUndecodableBytesReturnsUnsupportedMedia(t *testing.T) {
	a := New()
	_, err := a.Adjust(context.Background(), []byte("garbage"), "", codec.Operations{})
	assert.ErrorIs(t, err, codec.ErrUnsupportedMedia)
}

func TestProfileDataReturnsNil(t *testing.T) {
	a := New()
	entries, err := a.ProfileData(context.Background(), redBluePNG(t), "png")
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestBurstPDFUnsupported(t *testing.T) {
	a := New()
	ok, err := a.BurstPDF(context.Background(), []byte{}, t.TempDir(), 150)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSupportedFileTypesListsDecodableFormats(t *testing.T) {
	a := New()
	types := a.SupportedFileTypes()
	assert.True(t, types["jpg"])
	assert.True(t, types["png"])
	assert.True(t, types["gif"])
}

func TestSupportedOperationsExcludesUnimplementedExtras(t *testing.T) {
	a := New()
	ops := a.SupportedOperations()
	assert.True(t, ops["width"])
	assert.False(t, ops["icc_profile"])
	assert.False(t, ops["overlay"])
}
