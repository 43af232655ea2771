// Package codec defines C1, the pluggable image codec adapter: decode,
// re-encode and apply pixel operations. Two backends satisfy Adapter —
// codec/vips (github.com/davidbyttow/govips/v2, a high-capability libvips
// binding) and codec/stdimage (golang.org/x/image plus the standard
// library's image package, as a dependency-light fallback) — grounded on
// other_examples/manifests/Skryldev-image-processor's go.mod, the only
// pack source pairing those two libraries for this purpose.
package codec

import (
	"context"
	"errors"
)

// ErrUnsupportedMedia maps to §7's UnsupportedMedia/ImageError: the
// source bytes cannot be decoded by this adapter.
var ErrUnsupportedMedia = errors.New("codec: unsupported or undecodable media")

// Operations is the keyed dictionary of pixel operations to apply,
// matching ImageSpec field names directly so callers can pass through
// imagespec.Spec without an intermediate translation table.
type Operations struct {
	Width, Height       int
	AlignH, AlignV      string
	Rotation            float64
	Flip                string
	CropTop, CropLeft   float64
	CropBottom, CropRight float64
	CropFit, SizeFit    bool
	Fill                string
	Quality             int
	Sharpen             int
	OverlaySrc          string
	OverlayBytes        []byte
	OverlayPos          string
	OverlaySize         float64
	OverlayOpacity      float64
	ICCProfile          []byte
	ICCIntent           string
	ICCBPC              bool
	Colorspace          string
	StripMetadata       bool
	DPI                 int
	Format              string
}

// Dimensions is the decoded pixel size of a source or derivative.
type Dimensions struct {
	Width, Height int
}

// ProfileEntry is one (namespace, key, value) metadata triple as
// returned by ProfileData, e.g. EXIF or ICC profile tags.
type ProfileEntry struct {
	Profile, Key, Value string
}

// Adapter is the codec back end contract of §4.7. Implementations must
// be safe for concurrent use — govips serialises internally via its own
// worker pool, and the stdimage fallback is purely functional.
type Adapter interface {
	// Adjust applies ops to imageBytes and emits freshly encoded bytes.
	// The caller passes only the operations the base image still lacks;
	// the adapter itself does not compare against the base's attributes.
	Adjust(ctx context.Context, imageBytes []byte, inputHint string, ops Operations) ([]byte, error)
	Dimensions(ctx context.Context, imageBytes []byte, inputHint string) (Dimensions, error)
	ProfileData(ctx context.Context, imageBytes []byte, inputHint string) ([]ProfileEntry, error)
	BurstPDF(ctx context.Context, imageBytes []byte, destDir string, dpi int) (bool, error)
	SupportedOperations() map[string]bool
	SupportedFileTypes() map[string]bool
}
