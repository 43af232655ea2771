package imagespec

import (
	"net/url"
	"strconv"
)

// FromQuery builds a Spec from the HTTP query parameters described in
// spec.md §6 ("HTTP image request"). It does not validate or normalise;
// callers run Validate/ApplyTemplate/ApplyDefaults/Normalise afterwards.
func FromQuery(src string, sourceID int64, q url.Values) (Spec, error) {
	s := Spec{Source: src, SourceID: sourceID}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, invalid("page", "not an integer")
		}
		s.Page.Set(n)
	}
	if v := q.Get("format"); v != "" {
		s.Format.Set(v)
	}
	if v := q.Get("tmp"); v != "" {
		s.Template.Set(v)
	}
	if n, ok, err := atoiParam(q, "width"); err != nil {
		return s, err
	} else if ok {
		s.Width.Set(n)
	}
	if n, ok, err := atoiParam(q, "height"); err != nil {
		return s, err
	} else if ok {
		s.Height.Set(n)
	}
	if v := q.Get("halign"); v != "" {
		s.AlignH.Set(v)
	}
	if v := q.Get("valign"); v != "" {
		s.AlignV.Set(v)
	}
	if v := q.Get("angle"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return s, invalid("angle", "not a number")
		}
		s.Rotation.Set(f)
	}
	if v := q.Get("flip"); v != "" {
		s.Flip.Set(v)
	}
	if hasAny(q, "top", "left", "bottom", "right") {
		c := Crop{Right: 1, Bottom: 1}
		var err error
		if c.Top, err = floatParamOr(q, "top", 0); err != nil {
			return s, err
		}
		if c.Left, err = floatParamOr(q, "left", 0); err != nil {
			return s, err
		}
		if c.Bottom, err = floatParamOr(q, "bottom", 1); err != nil {
			return s, err
		}
		if c.Right, err = floatParamOr(q, "right", 1); err != nil {
			return s, err
		}
		s.Crop.Set(c)
	}
	if v := q.Get("autocropfit"); v != "" {
		s.CropFit.Set(isTruthy(v))
	}
	if v := q.Get("autosizefit"); v != "" {
		s.SizeFit.Set(isTruthy(v))
	}
	if v := q.Get("fill"); v != "" {
		s.Fill.Set(v)
	}
	if n, ok, err := atoiParam(q, "quality"); err != nil {
		return s, err
	} else if ok {
		s.Quality.Set(n)
	}
	if n, ok, err := atoiParam(q, "sharpen"); err != nil {
		return s, err
	} else if ok {
		s.Sharpen.Set(n)
	}
	if v := q.Get("overlay"); v != "" {
		s.OverlaySrc.Set(v)
	}
	if v := q.Get("ovpos"); v != "" {
		s.OverlayPos.Set(v)
	}
	if f, ok, err := floatParam(q, "ovsize"); err != nil {
		return s, err
	} else if ok {
		s.OverlaySize.Set(f)
	}
	if f, ok, err := floatParam(q, "ovopacity"); err != nil {
		return s, err
	} else if ok {
		s.OverlayOpacity.Set(f)
	}
	if v := q.Get("icc"); v != "" {
		s.ICCProfile.Set(v)
	}
	if v := q.Get("intent"); v != "" {
		s.ICCIntent.Set(v)
	}
	if v := q.Get("bpc"); v != "" {
		s.ICCBpc.Set(isTruthy(v))
	}
	if v := q.Get("colorspace"); v != "" {
		s.Colorspace.Set(v)
	}
	if v := q.Get("strip"); v != "" {
		s.StripMetadata.Set(isTruthy(v))
	}
	if n, ok, err := atoiParam(q, "dpi"); err != nil {
		return s, err
	} else if ok {
		s.DPI.Set(n)
	}
	if v := q.Get("tile"); v != "" {
		idx, grid, err := parseTile(v)
		if err != nil {
			return s, err
		}
		s.Tile.Set(Tile{Index: idx, Grid: grid})
	}
	return s, nil
}

func atoiParam(q url.Values, key string) (int, bool, error) {
	v := q.Get(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, invalid(key, "not an integer")
	}
	return n, true, nil
}

func floatParam(q url.Values, key string) (float64, bool, error) {
	v := q.Get(key)
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, invalid(key, "not a number")
	}
	return f, true, nil
}

func floatParamOr(q url.Values, key string, def float64) (float64, error) {
	f, ok, err := floatParam(q, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return f, nil
}

func hasAny(q url.Values, keys ...string) bool {
	for _, k := range keys {
		if q.Get(k) != "" {
			return true
		}
	}
	return false
}

func isTruthy(v string) bool {
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseTile(v string) (int, int, error) {
	i := -1
	for pos, r := range v {
		if r == ':' || r == ',' || r == '/' {
			i = pos
			break
		}
	}
	if i < 0 {
		return 0, 0, invalid("tile", "expected INDEX:GRID")
	}
	idx, err := strconv.Atoi(v[:i])
	if err != nil {
		return 0, 0, invalid("tile", "index is not an integer")
	}
	grid, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return 0, 0, invalid("tile", "grid is not an integer")
	}
	return idx, grid, nil
}
