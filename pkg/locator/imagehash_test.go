// File: pkg/locator/imagehash_test.go
package locator

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tagsentry/api/schemas"
	"github.com/xkilldash9x/tagsentry/internal/config"
)

// writePNG renders a simple two-tone test image.
func writePNG(t *testing.T, name string, split int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x < split {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestHashAssetStableAndDiscriminating(t *testing.T) {
	left := writePNG(t, "left.png", 32)
	same := writePNG(t, "same.png", 32)
	inverse := writePNG(t, "inverse.png", 0)

	h1, err := hashAsset(left)
	require.NoError(t, err)
	require.Len(t, h1, hashSide*hashSide)

	h2, err := hashAsset(same)
	require.NoError(t, err)
	assert.Zero(t, hammingDistance(h1, h2), "identical content hashes identically")

	h3, err := hashAsset(inverse)
	require.NoError(t, err)
	assert.Greater(t, hammingDistance(h1, h3), 10, "dissimilar content must be far apart")
}

func TestHashAssetErrors(t *testing.T) {
	_, err := hashAsset(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	_, err = hashAsset(garbage)
	assert.Error(t, err)
}

func TestHammingDistanceLengthMismatch(t *testing.T) {
	assert.Equal(t, hashSide*hashSide, hammingDistance("0101", "01"))
	assert.Equal(t, 0, hammingDistance("0101", "0101"))
	assert.Equal(t, 2, hammingDistance("0101", "0011"))
}

func TestImageMatchWithoutAssetFallsThrough(t *testing.T) {
	s := newImageMatchStrategy(&scriptedEvaluator{}, config.NewDefaultConfig().Locator)
	candidates, err := s.Attempt(context.Background(), schemas.Descriptor{Label: "logo"})
	require.NoError(t, err)
	assert.Nil(t, candidates, "no reference asset means nothing to compare")
}
