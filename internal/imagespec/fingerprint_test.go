package imagespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := Spec{SourceID: 42}
	a.Width.Set(200)
	a.Height.Set(100)

	b := Spec{SourceID: 42}
	b.Width.Set(200)
	b.Height.Set(100)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := b
	c.Width.Set(201)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestFingerprintPrefixesDiffer(t *testing.T) {
	s := Spec{SourceID: 7}
	s.Format.Set("png")
	assert.NotEqual(t, s.Fingerprint(), s.MetadataFingerprint())
	assert.Contains(t, s.Fingerprint(), "IMG:7")
	assert.Contains(t, s.MetadataFingerprint(), "META:7")
}

func TestFingerprintOmitsUnsetFields(t *testing.T) {
	bare := Spec{SourceID: 1}
	assert.Equal(t, "IMG:1", bare.Fingerprint())
}

func TestAttributeHashGroupsByFormatFillTile(t *testing.T) {
	jpgNoTile := Spec{}
	jpgNoTile.Format.Set("jpg")

	jpgNoTileAgain := Spec{}
	jpgNoTileAgain.Format.Set("jpg")
	assert.Equal(t, jpgNoTile.AttributeHash(), jpgNoTileAgain.AttributeHash())

	pngNoTile := Spec{}
	pngNoTile.Format.Set("png")
	assert.NotEqual(t, jpgNoTile.AttributeHash(), pngNoTile.AttributeHash())

	jpgTiled := Spec{}
	jpgTiled.Format.Set("jpg")
	jpgTiled.Tile.Set(Tile{Index: 0, Grid: 4})
	assert.NotEqual(t, jpgNoTile.AttributeHash(), jpgTiled.AttributeHash())
}
