// Package epd drives SSD1677-class e-paper panels over SPI, ported from the
// Waveshare vendor driver. The low-level DEV_* layer is abstracted behind the
// Bus interface so the command sequencing can run against real hardware
// (SPIBus, periph.io) or a recording mock (MockBus).
package epd

import "time"

// Pin identifies a control line by role. The mapping to a physical BCM
// number lives in the Profile; Bus implementations resolve the role.
type Pin int

const (
	// PinReset is the active-low panel reset line.
	PinReset Pin = iota
	// PinDC selects command (low) or data (high) for SPI transfers.
	PinDC
	// PinCS is the SPI chip select, asserted low for the transfer only.
	PinCS
	// PinBusy is high while the panel is mid-refresh.
	PinBusy
)

func (p Pin) String() string {
	switch p {
	case PinReset:
		return "RST"
	case PinDC:
		return "DC"
	case PinCS:
		return "CS"
	case PinBusy:
		return "BUSY"
	default:
		return "?"
	}
}

// Bus is the only capability the driver requires from the hardware layer.
type Bus interface {
	// Init acquires the SPI port and GPIO lines. Must be called before any
	// other method.
	Init() error

	DigitalWrite(p Pin, high bool) error
	DigitalRead(p Pin) (bool, error)

	// WriteBytes clocks out raw bytes on the SPI bus. DC and CS are managed
	// by the caller.
	WriteBytes(data []byte) error

	// Sleep blocks for the given duration. Routed through the bus so that
	// tests observe the protocol's timing without waiting it out.
	Sleep(d time.Duration)

	// Close releases the SPI port and GPIO lines.
	Close() error
}
