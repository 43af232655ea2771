package imagespec

// Defaults holds the server-wide fallback values applied by ApplyDefaults.
// Quality is deliberately absent: §4.1 requires it be supplied only by the
// imaging engine when an operation actually runs, never defaulted here.
type Defaults struct {
	Format        string
	Colorspace    string
	StripMetadata bool
	DPI           int
}

// ApplyTemplate merges another spec's fields into the receiver. When
// override is false, only fields unset on the receiver are filled in.
func (s *Spec) ApplyTemplate(tpl Spec, override bool) {
	merge := func(dstSet bool, apply func()) {
		if override || !dstSet {
			apply()
		}
	}
	if v, ok := tpl.Page.Get(); ok {
		merge(s.Page.IsSet(), func() { s.Page.Set(v) })
	}
	if v, ok := tpl.Format.Get(); ok {
		merge(s.Format.IsSet(), func() { s.Format.Set(v) })
	}
	if v, ok := tpl.Width.Get(); ok {
		merge(s.Width.IsSet(), func() { s.Width.Set(v) })
	}
	if v, ok := tpl.Height.Get(); ok {
		merge(s.Height.IsSet(), func() { s.Height.Set(v) })
	}
	if v, ok := tpl.AlignH.Get(); ok {
		merge(s.AlignH.IsSet(), func() { s.AlignH.Set(v) })
	}
	if v, ok := tpl.AlignV.Get(); ok {
		merge(s.AlignV.IsSet(), func() { s.AlignV.Set(v) })
	}
	if v, ok := tpl.Rotation.Get(); ok {
		merge(s.Rotation.IsSet(), func() { s.Rotation.Set(v) })
	}
	if v, ok := tpl.Flip.Get(); ok {
		merge(s.Flip.IsSet(), func() { s.Flip.Set(v) })
	}
	if v, ok := tpl.Crop.Get(); ok {
		merge(s.Crop.IsSet(), func() { s.Crop.Set(v) })
	}
	if v, ok := tpl.CropFit.Get(); ok {
		merge(s.CropFit.IsSet(), func() { s.CropFit.Set(v) })
	}
	if v, ok := tpl.SizeFit.Get(); ok {
		merge(s.SizeFit.IsSet(), func() { s.SizeFit.Set(v) })
	}
	if v, ok := tpl.Fill.Get(); ok {
		merge(s.Fill.IsSet(), func() { s.Fill.Set(v) })
	}
	if v, ok := tpl.Quality.Get(); ok {
		merge(s.Quality.IsSet(), func() { s.Quality.Set(v) })
	}
	if v, ok := tpl.Sharpen.Get(); ok {
		merge(s.Sharpen.IsSet(), func() { s.Sharpen.Set(v) })
	}
	if v, ok := tpl.OverlaySrc.Get(); ok {
		merge(s.OverlaySrc.IsSet(), func() { s.OverlaySrc.Set(v) })
	}
	if v, ok := tpl.OverlayPos.Get(); ok {
		merge(s.OverlayPos.IsSet(), func() { s.OverlayPos.Set(v) })
	}
	if v, ok := tpl.OverlaySize.Get(); ok {
		merge(s.OverlaySize.IsSet(), func() { s.OverlaySize.Set(v) })
	}
	if v, ok := tpl.OverlayOpacity.Get(); ok {
		merge(s.OverlayOpacity.IsSet(), func() { s.OverlayOpacity.Set(v) })
	}
	if v, ok := tpl.ICCProfile.Get(); ok {
		merge(s.ICCProfile.IsSet(), func() { s.ICCProfile.Set(v) })
	}
	if v, ok := tpl.ICCIntent.Get(); ok {
		merge(s.ICCIntent.IsSet(), func() { s.ICCIntent.Set(v) })
	}
	if v, ok := tpl.ICCBpc.Get(); ok {
		merge(s.ICCBpc.IsSet(), func() { s.ICCBpc.Set(v) })
	}
	if v, ok := tpl.Colorspace.Get(); ok {
		merge(s.Colorspace.IsSet(), func() { s.Colorspace.Set(v) })
	}
	if v, ok := tpl.StripMetadata.Get(); ok {
		merge(s.StripMetadata.IsSet(), func() { s.StripMetadata.Set(v) })
	}
	if v, ok := tpl.DPI.Get(); ok {
		merge(s.DPI.IsSet(), func() { s.DPI.Set(v) })
	}
	if v, ok := tpl.Tile.Get(); ok {
		merge(s.Tile.IsSet(), func() { s.Tile.Set(v) })
	}
}

// ApplyDefaults fills still-unset format/colorspace/strip/dpi from the
// server configuration. Quality is never touched here.
func (s *Spec) ApplyDefaults(d Defaults) {
	if !s.Format.IsSet() && d.Format != "" {
		s.Format.Set(d.Format)
	}
	if !s.Colorspace.IsSet() && d.Colorspace != "" {
		s.Colorspace.Set(d.Colorspace)
	}
	if !s.StripMetadata.IsSet() {
		s.StripMetadata.Set(d.StripMetadata)
	}
	if !s.DPI.IsSet() && d.DPI != 0 {
		s.DPI.Set(d.DPI)
	}
}
