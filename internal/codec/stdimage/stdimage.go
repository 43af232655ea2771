// Package stdimage implements codec.Adapter on the standard library's
// image package plus golang.org/x/image's draw and transform helpers — the
// fallback backend required by §2 C1 ("at least one... fallback") and
// §4.7's capability discovery, used when libvips is unavailable at
// startup. It supports a strict subset of operations; SupportedOperations
// reports that subset so the image manager can downgrade config instead
// of failing requests.
package stdimage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/quru/imageserver/internal/codec"
)

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func decode(imageBytes []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	return img, format, nil
}

func (a *Adapter) Adjust(ctx context.Context, imageBytes []byte, inputHint string, ops codec.Operations) ([]byte, error) {
	img, _, err := decode(imageBytes)
	if err != nil {
		return nil, err
	}

	if ops.CropBottom > ops.CropTop && ops.CropRight > ops.CropLeft {
		img = cropImage(img, ops)
	}

	if ops.Flip == "h" {
		img = flipHorizontal(img)
	} else if ops.Flip == "v" {
		img = flipVertical(img)
	}

	if ops.Rotation != 0 {
		img = rotate90Multiple(img, ops.Rotation)
	}

	if ops.Width > 0 || ops.Height > 0 {
		img = resize(img, ops.Width, ops.Height)
	}

	var buf bytes.Buffer
	switch strings.ToLower(ops.Format) {
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		q := ops.Quality
		if q <= 0 {
			q = jpeg.DefaultQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	return buf.Bytes(), nil
}

func (a *Adapter) Dimensions(ctx context.Context, imageBytes []byte, inputHint string) (codec.Dimensions, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageBytes))
	if err != nil {
		return codec.Dimensions{}, fmt.Errorf("%w: %v", codec.ErrUnsupportedMedia, err)
	}
	return codec.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// ProfileData is unsupported: the standard library's decoders discard
// EXIF/ICC chunks, so this backend reports no metadata rather than
// fabricating it.
func (a *Adapter) ProfileData(ctx context.Context, imageBytes []byte, inputHint string) ([]codec.ProfileEntry, error) {
	return nil, nil
}

func (a *Adapter) BurstPDF(ctx context.Context, imageBytes []byte, destDir string, dpi int) (bool, error) {
	return false, nil
}

func (a *Adapter) SupportedOperations() map[string]bool {
	return map[string]bool{
		"width": true, "height": true, "rotation": true, "flip": true,
		"crop": true, "quality": true, "fill": false, "sharpen": false,
		"strip_metadata": false, "colorspace": false, "overlay": false,
		"icc_profile": false, "tile": true,
	}
}

func (a *Adapter) SupportedFileTypes() map[string]bool {
	return map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true}
}

func cropImage(img image.Image, ops codec.Operations) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	r := image.Rect(
		b.Min.X+int(ops.CropLeft*float64(w)),
		b.Min.Y+int(ops.CropTop*float64(h)),
		b.Min.X+int(ops.CropRight*float64(w)),
		b.Min.Y+int(ops.CropBottom*float64(h)),
	)
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

func flipHorizontal(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(b.Max.X-1-(x-b.Min.X), y, img.At(x, y))
		}
	}
	return out
}

func flipVertical(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, b.Max.Y-1-(y-b.Min.Y), img.At(x, y))
		}
	}
	return out
}

// rotate90Multiple handles the 0/90/180/270 cases exactly; arbitrary
// angles are not supported by this fallback and are left unrotated —
// vips.Adapter is expected to own arbitrary-angle rotation in production.
func rotate90Multiple(img image.Image, degrees float64) image.Image {
	n := int(degrees)
	n = ((n % 360) + 360) % 360
	switch n {
	case 90:
		return rotate90(img)
	case 180:
		return rotate90(rotate90(img))
	case 270:
		return rotate90(rotate90(rotate90(img)))
	default:
		return img
	}
}

func rotate90(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(b.Max.Y-1-(y-b.Min.Y), x-b.Min.X, img.At(x, y))
		}
	}
	return out
}

func resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if w <= 0 {
		w = b.Dx() * h / maxInt(b.Dy(), 1)
	}
	if h <= 0 {
		h = b.Dy() * w / maxInt(b.Dx(), 1)
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxInt(w, 1), maxInt(h, 1)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
