// Package display decides how and whether a rendered frame reaches the
// panel: change detection, waveform choice bounded by the partial-refresh
// wear counter, and the transmit sequence itself.
package display

import (
	"bytes"
	"image"

	"epdweather/internal/convert"
	"epdweather/internal/epd"
	appLog "epdweather/internal/log"
)

// Options configures refresh policy.
type Options struct {
	// Grayscale selects the 4-level waveform and dual-bitplane transmission
	// instead of 1-bit black/white.
	Grayscale bool

	// PreferPartial allows the low-flicker partial waveform for monochrome
	// updates, bounded by PartialLimit.
	PreferPartial bool

	// PartialLimit is how many consecutive partial refreshes are allowed
	// before a full refresh is forced. Repeated partials degrade contrast;
	// the vendor recommends a bounded run.
	PartialLimit int

	// FastFull uses the fast waveform for full monochrome refreshes.
	FastFull bool
}

// Controller owns the refresh state and the last successfully transmitted
// fingerprint. Not safe for concurrent use; callers serialize updates.
type Controller struct {
	drv  *epd.Driver
	opts Options

	partialCount    int
	lastFingerprint string
}

// New wraps an opened driver.
func New(drv *epd.Driver, opts Options) *Controller {
	if opts.PartialLimit <= 0 {
		opts.PartialLimit = 10
	}
	return &Controller{drv: drv, opts: opts}
}

// PartialCount reports consecutive partial refreshes since the last full.
func (c *Controller) PartialCount() int { return c.partialCount }

// ShouldUpdate reports whether the given raster would trigger a physical
// refresh on the next Update call.
func (c *Controller) ShouldUpdate(img image.Image, force bool) bool {
	return force || Fingerprint(img) != c.lastFingerprint
}

// Update pushes the raster to the panel if its content changed (or force is
// set). Returns whether a physical refresh happened.
//
// The attempt is all-or-nothing: on any driver error the wear counter and
// the stored fingerprint are left untouched, so the next cycle retries the
// same content instead of skipping it.
func (c *Controller) Update(img image.Image, force bool) (bool, error) {
	fp := Fingerprint(img)
	if !force && fp == c.lastFingerprint {
		appLog.Info("display content unchanged, skipping refresh")
		return false, nil
	}

	mode := c.chooseMode()
	appLog.Info("refreshing display",
		"mode", mode,
		"partial_count", c.partialCount,
		"partial_limit", c.opts.PartialLimit,
	)

	if err := c.transmit(img, mode); err != nil {
		return false, err
	}

	if mode == epd.ModePartial {
		c.partialCount++
	} else {
		c.partialCount = 0
	}
	c.lastFingerprint = fp
	return true, nil
}

// chooseMode picks the refresh waveform. Partial applies only to monochrome
// content and only while the wear counter is under its limit; otherwise the
// caller's content type selects the full-strength waveform.
func (c *Controller) chooseMode() epd.Mode {
	if c.opts.Grayscale {
		return epd.ModeGray4
	}
	if c.opts.PreferPartial && c.partialCount < c.opts.PartialLimit {
		return epd.ModePartial
	}
	if c.opts.FastFull {
		return epd.ModeFast
	}
	return epd.ModeFull
}

func (c *Controller) transmit(img image.Image, mode epd.Mode) error {
	pr := c.drv.Profile()

	if mode == epd.ModeGray4 {
		gray, err := convert.PackGray4(img, pr.Width, pr.Height)
		if err != nil {
			return err
		}
		first, second, err := convert.Bitplanes(gray, pr.Width, pr.Height)
		if err != nil {
			return err
		}
		if err := c.drv.Init(mode); err != nil {
			return err
		}
		if err := c.drv.WriteFrame(epd.FrameBW, first); err != nil {
			return err
		}
		if err := c.drv.WriteFrame(epd.FrameRed, second); err != nil {
			return err
		}
		return c.drv.TriggerRefresh(mode)
	}

	buf, err := convert.PackMono(img, pr.Width, pr.Height)
	if err != nil {
		return err
	}
	if err := c.drv.Init(mode); err != nil {
		return err
	}
	if err := c.drv.WriteFrame(epd.FrameBW, buf); err != nil {
		return err
	}
	return c.drv.TriggerRefresh(mode)
}

// Clear paints the panel white with a full refresh, forgets the stored
// fingerprint, and resets the wear counter.
func (c *Controller) Clear() error {
	pr := c.drv.Profile()
	blank := bytes.Repeat([]byte{0xFF}, pr.BufferSizeMono())

	if err := c.drv.Init(epd.ModeFull); err != nil {
		return err
	}
	if err := c.drv.WriteFrame(epd.FrameBW, blank); err != nil {
		return err
	}
	if err := c.drv.WriteFrame(epd.FrameRed, blank); err != nil {
		return err
	}
	if err := c.drv.TriggerRefresh(epd.ModeFull); err != nil {
		return err
	}

	c.partialCount = 0
	c.lastFingerprint = ""
	return nil
}

// Sleep puts the panel into deep sleep. The next Update revives it via the
// driver's reset path.
func (c *Controller) Sleep() error {
	return c.drv.Sleep()
}
