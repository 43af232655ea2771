package imagespec

import "encoding/json"

// Snapshot is a JSON-friendly mirror of Spec, used by the cache (C3) to
// persist a candidate base image's full attribute set alongside its
// bytes, so later requests can run SuitableFor against it. Opt[T]'s
// fields are unexported, so a Spec cannot round-trip through
// encoding/json directly; Snapshot exists only to bridge that gap.
type Snapshot struct {
	Source   string
	SourceID int64

	Page     *int    `json:",omitempty"`
	Format   *string `json:",omitempty"`
	Width    *int    `json:",omitempty"`
	Height   *int    `json:",omitempty"`
	AlignH   *string `json:",omitempty"`
	AlignV   *string `json:",omitempty"`
	Rotation *float64 `json:",omitempty"`
	Flip     *string `json:",omitempty"`
	Crop     *Crop   `json:",omitempty"`
	CropFit  *bool   `json:",omitempty"`
	SizeFit  *bool   `json:",omitempty"`
	Fill     *string `json:",omitempty"`
	Quality  *int    `json:",omitempty"`
	Sharpen  *int    `json:",omitempty"`

	OverlaySrc     *string  `json:",omitempty"`
	OverlayPos     *string  `json:",omitempty"`
	OverlaySize    *float64 `json:",omitempty"`
	OverlayOpacity *float64 `json:",omitempty"`

	ICCProfile *string `json:",omitempty"`
	ICCIntent  *string `json:",omitempty"`
	ICCBpc     *bool   `json:",omitempty"`

	Colorspace *string `json:",omitempty"`

	StripMetadata *bool `json:",omitempty"`
	DPI           *int  `json:",omitempty"`

	Tile *Tile `json:",omitempty"`
}

func ptr[T any](o Opt[T]) *T {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return &v
}

func fromPtr[T any](p *T) Opt[T] {
	if p == nil {
		return Opt[T]{}
	}
	return Some(*p)
}

// ToSnapshot converts s into its JSON-serialisable mirror.
func (s Spec) ToSnapshot() Snapshot {
	return Snapshot{
		Source: s.Source, SourceID: s.SourceID,
		Page: ptr(s.Page), Format: ptr(s.Format),
		Width: ptr(s.Width), Height: ptr(s.Height),
		AlignH: ptr(s.AlignH), AlignV: ptr(s.AlignV),
		Rotation: ptr(s.Rotation), Flip: ptr(s.Flip),
		Crop: ptr(s.Crop), CropFit: ptr(s.CropFit), SizeFit: ptr(s.SizeFit),
		Fill: ptr(s.Fill), Quality: ptr(s.Quality), Sharpen: ptr(s.Sharpen),
		OverlaySrc: ptr(s.OverlaySrc), OverlayPos: ptr(s.OverlayPos),
		OverlaySize: ptr(s.OverlaySize), OverlayOpacity: ptr(s.OverlayOpacity),
		ICCProfile: ptr(s.ICCProfile), ICCIntent: ptr(s.ICCIntent), ICCBpc: ptr(s.ICCBpc),
		Colorspace:    ptr(s.Colorspace),
		StripMetadata: ptr(s.StripMetadata), DPI: ptr(s.DPI),
		Tile: ptr(s.Tile),
	}
}

// FromSnapshot rebuilds a Spec from its JSON mirror.
func FromSnapshot(sn Snapshot) Spec {
	return Spec{
		Source: sn.Source, SourceID: sn.SourceID,
		Page: fromPtr(sn.Page), Format: fromPtr(sn.Format),
		Width: fromPtr(sn.Width), Height: fromPtr(sn.Height),
		AlignH: fromPtr(sn.AlignH), AlignV: fromPtr(sn.AlignV),
		Rotation: fromPtr(sn.Rotation), Flip: fromPtr(sn.Flip),
		Crop: fromPtr(sn.Crop), CropFit: fromPtr(sn.CropFit), SizeFit: fromPtr(sn.SizeFit),
		Fill: fromPtr(sn.Fill), Quality: fromPtr(sn.Quality), Sharpen: fromPtr(sn.Sharpen),
		OverlaySrc: fromPtr(sn.OverlaySrc), OverlayPos: fromPtr(sn.OverlayPos),
		OverlaySize: fromPtr(sn.OverlaySize), OverlayOpacity: fromPtr(sn.OverlayOpacity),
		ICCProfile: fromPtr(sn.ICCProfile), ICCIntent: fromPtr(sn.ICCIntent), ICCBpc: fromPtr(sn.ICCBpc),
		Colorspace:    fromPtr(sn.Colorspace),
		StripMetadata: fromPtr(sn.StripMetadata), DPI: fromPtr(sn.DPI),
		Tile: fromPtr(sn.Tile),
	}
}

// MarshalSnapshot and UnmarshalSnapshot are thin JSON wrappers so callers
// outside this package don't need to import encoding/json themselves.
func (s Spec) MarshalSnapshot() ([]byte, error) { return json.Marshal(s.ToSnapshot()) }

func UnmarshalSnapshot(b []byte) (Spec, error) {
	var sn Snapshot
	if err := json.Unmarshal(b, &sn); err != nil {
		return Spec{}, err
	}
	return FromSnapshot(sn), nil
}
