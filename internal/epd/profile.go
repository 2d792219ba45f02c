package epd

// Profile describes one panel model: geometry, wiring and the vendor
// constants its controller requires. Profiles are immutable; create one at
// startup and share it freely.
type Profile struct {
	// Width and Height are the native panel extents in pixels.
	Width  int
	Height int

	// BCM GPIO numbers for the control lines.
	ResetPin int
	DCPin    int
	CSPin    int
	BusyPin  int

	// SPIHz is the SPI clock rate.
	SPIHz int64

	// BoosterSoftStart is the payload of command 0x0C, fixed by the vendor.
	BoosterSoftStart []byte

	// GrayLUT is the vendor 4-gray waveform table: bytes 0..104 go to the
	// LUT register, 105 to gate line width, 106..108 to gate driving
	// voltage, 109 to the VCOM register. Trailing bytes are unused.
	GrayLUT []byte
}

// BufferSizeMono returns the byte length of a packed 1bpp frame.
func (p *Profile) BufferSizeMono() int {
	return p.Width / 8 * p.Height
}

// BufferSizeGray returns the byte length of a packed 2bpp frame.
func (p *Profile) BufferSizeGray() int {
	return p.Width / 4 * p.Height
}

// Profile4in26 is the Waveshare 4.26" 800x480 panel on the standard HAT
// wiring (BCM numbering).
var Profile4in26 = &Profile{
	Width:  800,
	Height: 480,

	ResetPin: 17,
	DCPin:    25,
	CSPin:    8,
	BusyPin:  24,

	SPIHz: 4_000_000,

	BoosterSoftStart: []byte{0xAE, 0xC7, 0xC3, 0xC0, 0x80},

	GrayLUT: []byte{
		0x80, 0x48, 0x4A, 0x22, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x0A, 0x48, 0x68, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x88, 0x48, 0x60, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xA8, 0x48, 0x45, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x07, 0x1E, 0x1C, 0x02, 0x00,
		0x05, 0x01, 0x05, 0x01, 0x02,
		0x08, 0x01, 0x01, 0x04, 0x04,
		0x00, 0x02, 0x00, 0x02, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x01,
		0x22, 0x22, 0x22, 0x22, 0x22,
		0x17, 0x41, 0xA8, 0x32, 0x30,
		0x00, 0x00,
	},
}
