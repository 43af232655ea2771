package imagespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseIsIdempotent(t *testing.T) {
	s := Spec{Source: "a/photo.jpg"}
	s.Format.Set("SRGB")
	s.Rotation.Set(720)
	s.Fill.Set("white")
	s.Crop.Set(Crop{Top: 0, Left: 0, Bottom: 1, Right: 1})

	once := s.Normalise()
	twice := once.Normalise()
	assert.Equal(t, once, twice)
}

func TestNormaliseRewrites(t *testing.T) {
	tests := []struct {
		name  string
		build func() Spec
		check func(t *testing.T, out Spec)
	}{
		{
			name: "format alias collapses and lowercases",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Format.Set("SRGB")
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.Equal(t, "rgb", out.Format.GetOr(""))
			},
		},
		{
			name: "rotation of 360 collapses to unset",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Rotation.Set(360)
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Rotation.IsSet())
			},
		},
		{
			name: "180 rotation plus vertical flip becomes horizontal flip",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Rotation.Set(180)
				s.Flip.Set("v")
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Rotation.IsSet())
				assert.Equal(t, "h", out.Flip.GetOr(""))
			},
		},
		{
			name: "identity crop rectangle clears",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Crop.Set(Crop{Top: 0, Left: 0, Bottom: 1, Right: 1})
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Crop.IsSet())
			},
		},
		{
			name: "tile grid smaller than 2 clears",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Tile.Set(Tile{Index: 0, Grid: 1})
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Tile.IsSet())
			},
		},
		{
			name: "format equal to source extension clears",
			build: func() Spec {
				s := Spec{Source: "a/photo.jpg"}
				s.Format.Set("jpg")
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Format.IsSet())
			},
		},
		{
			name: "fill without padding or rotation clears",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Fill.Set("red")
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Fill.IsSet())
			},
		},
		{
			name: "fill survives when size-fit padding can occur",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Fill.Set("red")
				s.SizeFit.Set(true)
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.True(t, out.Fill.IsSet())
			},
		},
		{
			name: "align clears without size_fit",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.AlignH.Set("C0")
				s.AlignV.Set("T0")
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.AlignH.IsSet())
				assert.False(t, out.AlignV.IsSet())
			},
		},
		{
			name: "align survives when size_fit can pad",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.AlignH.Set("C0")
				s.SizeFit.Set(true)
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.True(t, out.AlignH.IsSet())
			},
		},
		{
			name: "width=0 clears to unset",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Width.Set(0)
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Width.IsSet())
			},
		},
		{
			name: "height=0 clears to unset",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Height.Set(0)
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.False(t, out.Height.IsSet())
			},
		},
		{
			name: "nonzero width/height survive",
			build: func() Spec {
				s := Spec{Source: "a.jpg"}
				s.Width.Set(200)
				s.Height.Set(100)
				return s
			},
			check: func(t *testing.T, out Spec) {
				assert.Equal(t, 200, out.Width.GetOr(0))
				assert.Equal(t, 100, out.Height.GetOr(0))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.build().Normalise())
		})
	}
}

// TestNormaliseFingerprintStability is I7: requests that are semantically
// equivalent after normalisation must produce identical cache keys, even
// when one spells out a literal default (width=0/height=0, or an align
// with no size_fit to apply it) and the other omits the field entirely.
func TestNormaliseFingerprintStability(t *testing.T) {
	bare := Spec{Source: "a.jpg"}

	withZeros := Spec{Source: "a.jpg"}
	withZeros.Width.Set(0)
	withZeros.Height.Set(0)
	assert.Equal(t, bare.Normalise().Fingerprint(), withZeros.Normalise().Fingerprint())

	withAlign := Spec{Source: "a.jpg"}
	withAlign.AlignH.Set("C0")
	withAlign.AlignV.Set("T0")
	assert.Equal(t, bare.Normalise().Fingerprint(), withAlign.Normalise().Fingerprint())
}
