package display

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"image/color"
)

// Fingerprint returns a content digest of the raster's pixel luminance,
// computed before any device encoding. Identical renders hash identically
// regardless of how they will be packed.
func Fingerprint(img image.Image) string {
	h := sha256.New()

	if g, ok := img.(*image.Gray); ok {
		h.Write(g.Pix)
	} else {
		b := img.Bounds()
		row := make([]byte, b.Dx())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				row[x-b.Min.X] = color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
			}
			h.Write(row)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
