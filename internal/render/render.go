// Package render draws the weather layout straight onto an in-memory
// canvas. It is the lightweight alternative to browser capture: no
// Chromium install, renders in milliseconds on a Pi Zero.
package render

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"epdweather/internal/monitor"
	"epdweather/internal/weather"
)

// Panel gray levels. Everything drawn snaps to one of these four so the
// quantizer never has to guess a bucket.
const (
	shadeWhite = 0xFF
	shadeLight = 0xC0
	shadeDark  = 0x80
	shadeBlack = 0x00
)

// Options configures canvas geometry and typography.
type Options struct {
	// Width and Height are the panel dimensions in panel orientation.
	Width  int
	Height int
	// Rotation is 0, 90, 180 or 270 degrees clockwise.
	Rotation int
	// FontPath points at a TTF file. Empty falls back to a builtin
	// bitmap face, legible but small.
	FontPath string
}

// Renderer produces quantized grayscale frames for the panel.
type Renderer struct {
	opts Options
}

// New builds a renderer. Font loading is deferred to Render so a bad
// path degrades to the builtin face instead of failing startup.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// canvasSize returns the drawing dimensions. Rotated 90/270 the canvas
// is transposed relative to the panel and the frame packer restores
// panel orientation during packing.
func (r *Renderer) canvasSize() (int, int) {
	if r.opts.Rotation == 90 || r.opts.Rotation == 270 {
		return r.opts.Height, r.opts.Width
	}
	return r.opts.Width, r.opts.Height
}

func (r *Renderer) setFace(dc *gg.Context, points float64) {
	if r.opts.FontPath != "" {
		if err := dc.LoadFontFace(r.opts.FontPath, points); err == nil {
			return
		}
	}
	dc.SetFontFace(basicfont.Face7x13)
}

func setShade(dc *gg.Context, shade int) {
	dc.SetRGB255(shade, shade, shade)
}

// Render draws current conditions plus an optional host-stats footer and
// returns a four-level grayscale image sized for the configured rotation.
func (r *Renderer) Render(obs *weather.Observation, stats *monitor.Stats, now time.Time) (*image.Gray, error) {
	w, h := r.canvasSize()
	dc := gg.NewContext(w, h)

	setShade(dc, shadeWhite)
	dc.Clear()

	fw := float64(w)
	fh := float64(h)

	// Header: location left, clock right, rule underneath.
	setShade(dc, shadeBlack)
	r.setFace(dc, fh*0.05)
	loc := obs.Location
	if loc == "" {
		loc = "Weather"
	}
	dc.DrawStringAnchored(loc, fw*0.05, fh*0.07, 0, 0.5)
	dc.DrawStringAnchored(now.Format("Mon 15:04"), fw*0.95, fh*0.07, 1, 0.5)

	dc.SetLineWidth(3)
	dc.DrawLine(fw*0.05, fh*0.12, fw*0.95, fh*0.12)
	dc.Stroke()

	// Main temperature, large and centered.
	r.setFace(dc, fh*0.28)
	dc.DrawStringAnchored(formatTemp(obs.Temperature), fw*0.5, fh*0.34, 0.5, 0.5)

	// Condition text and feels-like, in the two darker grays.
	setShade(dc, shadeDark)
	r.setFace(dc, fh*0.07)
	dc.DrawStringAnchored(obs.Description, fw*0.5, fh*0.54, 0.5, 0.5)

	setShade(dc, shadeLight)
	r.setFace(dc, fh*0.05)
	dc.DrawStringAnchored(
		fmt.Sprintf("feels like %s", formatTemp(obs.FeelsLike)),
		fw*0.5, fh*0.62, 0.5, 0.5)

	// Detail row: humidity, wind, pressure.
	setShade(dc, shadeBlack)
	r.setFace(dc, fh*0.045)
	details := []string{
		fmt.Sprintf("humidity %d%%", obs.Humidity),
		fmt.Sprintf("wind %.1f", obs.WindSpeed),
		fmt.Sprintf("pressure %.0f hPa", obs.Pressure),
	}
	for i, d := range details {
		x := fw * (0.2 + 0.3*float64(i))
		dc.DrawStringAnchored(d, x, fh*0.76, 0.5, 0.5)
	}

	// Footer: host stats when monitoring is on.
	if stats != nil {
		setShade(dc, shadeLight)
		r.setFace(dc, fh*0.03)
		footer := fmt.Sprintf("cpu %.0f%%  mem %.0f%%", stats.CPUPercent, stats.MemPercent)
		if stats.TempC > 0 {
			footer += fmt.Sprintf("  soc %.1fC", stats.TempC)
		}
		dc.DrawStringAnchored(footer, fw*0.5, fh*0.96, 0.5, 0.5)
	}

	return r.finish(dc.Image()), nil
}

// RenderMessage draws a single centered line, used for startup and error
// screens.
func (r *Renderer) RenderMessage(msg string) *image.Gray {
	w, h := r.canvasSize()
	dc := gg.NewContext(w, h)

	setShade(dc, shadeWhite)
	dc.Clear()

	setShade(dc, shadeBlack)
	r.setFace(dc, float64(h)*0.06)
	dc.DrawStringAnchored(msg, float64(w)/2, float64(h)/2, 0.5, 0.5)

	return r.finish(dc.Image())
}

// finish quantizes to the four panel shades and applies the part of the
// rotation the packer does not handle. The packer maps a transposed
// raster one way, which covers 90; 270 needs an extra half turn, and
// 180 is entirely ours.
func (r *Renderer) finish(src image.Image) *image.Gray {
	gray := Quantize(src)
	switch r.opts.Rotation {
	case 180, 270:
		return flip180(gray)
	default:
		return gray
	}
}

// Quantize converts any image to grayscale snapped to the four panel
// shades.
func Quantize(src image.Image) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			out.SetGray(x, y, color.Gray{Y: snapShade(c.Y)})
		}
	}
	return out
}

func snapShade(v uint8) uint8 {
	switch {
	case v >= 0xE0:
		return shadeWhite
	case v >= 0xA0:
		return shadeLight
	case v >= 0x40:
		return shadeDark
	default:
		return shadeBlack
	}
}

func flip180(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetGray(w-1-x, h-1-y, src.GrayAt(x, y))
		}
	}
	return out
}

func formatTemp(t float64) string {
	return fmt.Sprintf("%.0f°", t)
}
