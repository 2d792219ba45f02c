package display

import (
	"image"
	"image/color"
	"testing"

	"epdweather/internal/epd"
)

func panelImage(t *testing.T, shade uint8) *image.Gray {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, epd.Profile4in26.Width, epd.Profile4in26.Height))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return img
}

func newTestController(t *testing.T, opts Options) (*Controller, *epd.MockBus) {
	t.Helper()
	bus := epd.NewMockBus()
	drv := epd.NewDriver(bus, epd.Profile4in26, epd.Timing{})
	if err := drv.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return New(drv, opts), bus
}

func countFrameWrites(bus *epd.MockBus) (bw, red int) {
	for _, tx := range bus.Transactions {
		switch tx.Cmd {
		case 0x24:
			bw++
		case 0x26:
			red++
		}
	}
	return bw, red
}

func TestUpdateSkipsUnchangedContent(t *testing.T) {
	c, bus := newTestController(t, Options{})
	img := panelImage(t, 0xFF)

	drawn, err := c.Update(img, false)
	if err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if !drawn {
		t.Fatal("first Update should refresh")
	}
	writes := bus.Writes

	drawn, err = c.Update(img, false)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if drawn {
		t.Error("identical content should not refresh")
	}
	if bus.Writes != writes {
		t.Errorf("unchanged content produced %d extra writes", bus.Writes-writes)
	}

	// force pushes the frame regardless.
	drawn, err = c.Update(img, true)
	if err != nil {
		t.Fatalf("forced Update: %v", err)
	}
	if !drawn {
		t.Error("forced Update should refresh")
	}
}

func TestShouldUpdate(t *testing.T) {
	c, _ := newTestController(t, Options{})
	img := panelImage(t, 0xFF)

	if !c.ShouldUpdate(img, false) {
		t.Error("fresh controller should want to draw")
	}
	if _, err := c.Update(img, false); err != nil {
		t.Fatal(err)
	}
	if c.ShouldUpdate(img, false) {
		t.Error("unchanged content should not want to draw")
	}
	if !c.ShouldUpdate(img, true) {
		t.Error("force should always want to draw")
	}

	img.SetGray(0, 0, color.Gray{Y: 0})
	if !c.ShouldUpdate(img, false) {
		t.Error("changed content should want to draw")
	}
}

func TestPartialLimitForcesFullRefresh(t *testing.T) {
	c, _ := newTestController(t, Options{PreferPartial: true, PartialLimit: 3})

	shade := uint8(0)
	next := func() *image.Gray {
		shade++
		return panelImage(t, shade)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.Update(next(), false); err != nil {
			t.Fatalf("partial update %d: %v", i, err)
		}
		if got := c.drv.Mode(); got != epd.ModePartial {
			t.Fatalf("update %d used %v, want partial", i, got)
		}
	}
	if c.PartialCount() != 3 {
		t.Fatalf("PartialCount = %d, want 3", c.PartialCount())
	}

	// Limit reached: the next refresh is full and resets the counter.
	if _, err := c.Update(next(), false); err != nil {
		t.Fatalf("full update: %v", err)
	}
	if got := c.drv.Mode(); got != epd.ModeFull {
		t.Errorf("mode at limit = %v, want full", got)
	}
	if c.PartialCount() != 0 {
		t.Errorf("PartialCount after full = %d, want 0", c.PartialCount())
	}

	// And partials resume afterwards.
	if _, err := c.Update(next(), false); err != nil {
		t.Fatal(err)
	}
	if got := c.drv.Mode(); got != epd.ModePartial {
		t.Errorf("mode after reset = %v, want partial", got)
	}
}

func TestGrayscaleWritesBothPlanes(t *testing.T) {
	c, bus := newTestController(t, Options{Grayscale: true})

	if _, err := c.Update(panelImage(t, 0x80), false); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := c.drv.Mode(); got != epd.ModeGray4 {
		t.Errorf("mode = %v, want gray4", got)
	}
	bw, red := countFrameWrites(bus)
	if bw != 1 || red != 1 {
		t.Errorf("frame writes bw=%d red=%d, want 1 and 1", bw, red)
	}
}

func TestFastFullSelectsFastWaveform(t *testing.T) {
	c, _ := newTestController(t, Options{FastFull: true})

	if _, err := c.Update(panelImage(t, 0xFF), false); err != nil {
		t.Fatal(err)
	}
	if got := c.drv.Mode(); got != epd.ModeFast {
		t.Errorf("mode = %v, want fast", got)
	}
}

func TestFailedUpdateLeavesStateUntouched(t *testing.T) {
	c, bus := newTestController(t, Options{PreferPartial: true})
	img := panelImage(t, 0xFF)

	bus.FailAtWrite = 2
	if _, err := c.Update(img, false); err == nil {
		t.Fatal("Update should surface the transfer failure")
	}
	if c.PartialCount() != 0 {
		t.Errorf("PartialCount after failure = %d, want 0", c.PartialCount())
	}

	// The fingerprint was not stored, so the same content still refreshes.
	bus.FailAtWrite = -1
	drawn, err := c.Update(img, false)
	if err != nil {
		t.Fatalf("retry Update: %v", err)
	}
	if !drawn {
		t.Error("retry after failure should refresh")
	}
}

func TestClearResetsPolicyState(t *testing.T) {
	c, bus := newTestController(t, Options{PreferPartial: true})
	img := panelImage(t, 0xFF)

	if _, err := c.Update(img, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.PartialCount() != 0 {
		t.Errorf("PartialCount after Clear = %d, want 0", c.PartialCount())
	}
	bw, red := countFrameWrites(bus)
	if bw < 2 || red < 1 {
		t.Errorf("Clear should blank both frame buffers (bw=%d red=%d)", bw, red)
	}

	// Clear forgets the fingerprint: the same content draws again.
	drawn, err := c.Update(img, false)
	if err != nil {
		t.Fatal(err)
	}
	if !drawn {
		t.Error("content after Clear should refresh")
	}
}
