// Package convert turns rendered raster images into the packed byte buffers
// the panel controller consumes. All functions are pure transforms; the
// packing rules are byte-exact ports of the vendor buffer builders.
package convert

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrUnsupportedDimensions reports a raster that is neither panel-sized nor
// the panel's transpose.
var ErrUnsupportedDimensions = errors.New("convert: unsupported image dimensions")

// Gray level constants. The renderer emits exactly these four luminance
// values; PackGray4 buckets anything else by its top two bits.
const (
	GrayWhite byte = 0xFF
	GrayLight byte = 0xC0
	GrayDark  byte = 0x80
	GrayBlack byte = 0x00
)

// orientation describes how the source raster maps onto panel memory.
type orientation int

const (
	identity orientation = iota
	transposed
)

func classify(img image.Image, w, h int) (orientation, error) {
	b := img.Bounds()
	switch {
	case b.Dx() == w && b.Dy() == h:
		return identity, nil
	case b.Dx() == h && b.Dy() == w:
		return transposed, nil
	default:
		return 0, fmt.Errorf("%w: got %dx%d, want %dx%d or %dx%d",
			ErrUnsupportedDimensions, b.Dx(), b.Dy(), w, h, h, w)
	}
}

// luma8 reads a pixel as 8-bit luminance. Fast path for the grayscale
// rasters the renderer produces.
func luma8(img image.Image, x, y int) uint8 {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		return g.Pix[g.PixOffset(b.Min.X+x, b.Min.Y+y)]
	}
	return color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
}

// PackMono packs a raster into the 1bpp format: 8 pixels per byte,
// MSB-first, width/8*height bytes, 0xFF background, cleared bit = black.
// A pixel is black when its luminance is below 0x80.
//
// A transposed raster (height x width) is remapped with newX = y,
// newY = height-1-x so rows land on physical panel rows; the panel
// addresses memory by physical row and the remap must be preserved.
func PackMono(img image.Image, w, h int) ([]byte, error) {
	orient, err := classify(img, w, h)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, w/8*h)
	for i := range buf {
		buf[i] = 0xFF
	}

	ib := img.Bounds()
	iw, ih := ib.Dx(), ib.Dy()

	if orient == identity {
		for y := 0; y < ih; y++ {
			for x := 0; x < iw; x++ {
				if luma8(img, x, y) < 0x80 {
					buf[(x+y*w)/8] &^= 0x80 >> (x % 8)
				}
			}
		}
		return buf, nil
	}

	for y := 0; y < ih; y++ {
		for x := 0; x < iw; x++ {
			if luma8(img, x, y) < 0x80 {
				newX := y
				newY := h - 1 - x
				buf[(newX+newY*w)/8] &^= 0x80 >> (y % 8)
			}
		}
	}
	return buf, nil
}

// graySample maps an 8-bit luminance to its 2-bit sample, stored in the top
// two bits. The two middle buckets are shifted down one level first, which
// is what the 4-gray waveform expects.
func graySample(v uint8) uint8 {
	switch v {
	case GrayLight:
		v = GrayDark
	case GrayDark:
		v = 0x40
	}
	return v & 0xC0
}

// PackGray4 packs a raster into the 2bpp format: 4 pixels per byte, pixel 0
// in bits 7-6 through pixel 3 in bits 1-0, width/4*height bytes. The same
// transposed remap as PackMono applies.
func PackGray4(img image.Image, w, h int) ([]byte, error) {
	orient, err := classify(img, w, h)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, w/4*h)
	ib := img.Bounds()
	iw, ih := ib.Dx(), ib.Dy()

	if orient == identity {
		for y := 0; y < ih; y++ {
			for x := 3; x < iw; x += 4 {
				buf[(x+y*w)/4] = graySample(luma8(img, x-3, y)) |
					graySample(luma8(img, x-2, y))>>2 |
					graySample(luma8(img, x-1, y))>>4 |
					graySample(luma8(img, x, y))>>6
			}
		}
		return buf, nil
	}

	// Transposed: walk columns so that four consecutive source pixels along
	// y share one output byte, addressed by the remapped final pixel.
	for x := 0; x < iw; x++ {
		for y := 3; y < ih; y += 4 {
			newX := y
			newY := h - 1 - x
			buf[(newX+newY*w)/4] = graySample(luma8(img, x, y-3)) |
				graySample(luma8(img, x, y-2))>>2 |
				graySample(luma8(img, x, y-1))>>4 |
				graySample(luma8(img, x, y))>>6
		}
	}
	return buf, nil
}

// Bitplanes splits a 2bpp buffer into the two 1bpp planes the panel wants
// in its 0x24 and 0x26 frame buffers. Each output byte consumes two source
// bytes (eight 2-bit samples), one output bit per sample, shifted in
// high-to-low:
//
//	sample  first plane  second plane
//	0xC0    0            0             white
//	0x80    1            0             light gray
//	0x40    0            1             dark gray
//	0x00    1            1             black
func Bitplanes(gray []byte, w, h int) (first, second []byte, err error) {
	want := w / 4 * h
	if len(gray) != want {
		return nil, nil, fmt.Errorf("convert: gray buffer is %d bytes, want %d", len(gray), want)
	}

	n := w / 8 * h
	first = make([]byte, n)
	second = make([]byte, n)

	for i := 0; i < n; i++ {
		var b1, b2 byte
		for j := 0; j < 2; j++ {
			v := gray[i*2+j]
			for k := 0; k < 4; k++ {
				b1 <<= 1
				b2 <<= 1
				switch v & 0xC0 {
				case 0x00:
					b1 |= 1
					b2 |= 1
				case 0x80:
					b1 |= 1
				case 0x40:
					b2 |= 1
				}
				v <<= 2
			}
		}
		first[i] = b1
		second[i] = b2
	}
	return first, second, nil
}
