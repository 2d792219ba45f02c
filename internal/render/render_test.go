package render

import (
	"image"
	"image/color"
	"testing"
	"time"

	"epdweather/internal/monitor"
	"epdweather/internal/weather"
)

var testObs = &weather.Observation{
	Temperature: 21.5,
	FeelsLike:   20.1,
	Humidity:    63,
	Pressure:    1013,
	WindSpeed:   3.4,
	Description: "scattered clouds",
	Location:    "Berlin",
}

func checkShades(t *testing.T, img *image.Gray) {
	t.Helper()
	for i, v := range img.Pix {
		switch v {
		case shadeWhite, shadeLight, shadeDark, shadeBlack:
		default:
			t.Fatalf("pixel %d has shade %#02x, not one of the four panel levels", i, v)
		}
	}
}

func TestRenderDimensionsPerRotation(t *testing.T) {
	for _, tc := range []struct {
		rotation     int
		wantW, wantH int
	}{
		{0, 800, 480},
		{90, 480, 800},
		{180, 800, 480},
		{270, 480, 800},
	} {
		r := New(Options{Width: 800, Height: 480, Rotation: tc.rotation})
		img, err := r.Render(testObs, nil, time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("rotation %d: %v", tc.rotation, err)
		}
		b := img.Bounds()
		if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
			t.Errorf("rotation %d: got %dx%d, want %dx%d",
				tc.rotation, b.Dx(), b.Dy(), tc.wantW, tc.wantH)
		}
		checkShades(t, img)
	}
}

func TestRenderDrawsSomething(t *testing.T) {
	r := New(Options{Width: 200, Height: 120})
	stats := &monitor.Stats{CPUPercent: 12, MemPercent: 40, TempC: 48.2}

	img, err := r.Render(testObs, stats, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	nonWhite := 0
	for _, v := range img.Pix {
		if v != shadeWhite {
			nonWhite++
		}
	}
	if nonWhite == 0 {
		t.Error("rendered frame is blank")
	}
}

func TestRenderMessage(t *testing.T) {
	r := New(Options{Width: 200, Height: 120})
	img := r.RenderMessage("no network")
	checkShades(t, img)

	nonWhite := 0
	for _, v := range img.Pix {
		if v != shadeWhite {
			nonWhite++
		}
	}
	if nonWhite == 0 {
		t.Error("message frame is blank")
	}
}

func TestQuantizeSnapsToFourLevels(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 1))
	src.SetGray(0, 0, color.Gray{Y: 0xF0})
	src.SetGray(1, 0, color.Gray{Y: 0xB0})
	src.SetGray(2, 0, color.Gray{Y: 0x55})
	src.SetGray(3, 0, color.Gray{Y: 0x10})

	got := Quantize(src)
	want := []uint8{shadeWhite, shadeLight, shadeDark, shadeBlack}
	for i, w := range want {
		if got.Pix[i] != w {
			t.Errorf("pixel %d = %#02x, want %#02x", i, got.Pix[i], w)
		}
	}
}
