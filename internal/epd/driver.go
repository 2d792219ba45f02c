package epd

import (
	"fmt"
	"time"
)

// Controller commands (SSD1677 family).
const (
	driverOutputControl            byte = 0x01
	gateLineWidth                  byte = 0x03
	gateDrivingVoltageControl      byte = 0x04
	deepSleepMode                  byte = 0x10
	dataEntryModeSetting           byte = 0x11
	swReset                        byte = 0x12
	tempSensorSelect               byte = 0x18
	tempSensorRegWrite             byte = 0x1A
	masterActivation               byte = 0x20
	displayUpdateControl2          byte = 0x22
	writeRAMBW                     byte = 0x24
	writeRAMRed                    byte = 0x26
	writeVcomRegister              byte = 0x2C
	writeLutRegister               byte = 0x32
	borderWaveformControl          byte = 0x3C
	setRAMXAddressStartEndPosition byte = 0x44
	setRAMYAddressStartEndPosition byte = 0x45
	setRAMXAddressCounter          byte = 0x4E
	setRAMYAddressCounter          byte = 0x4F
	boosterSoftStartControl        byte = 0x0C
)

// Frame selects one of the two on-chip frame buffers. For monochrome
// refreshes only FrameBW is written; the 4-gray waveform reads both and
// interprets the superposition as four levels.
type Frame byte

const (
	FrameBW  Frame = Frame(writeRAMBW)
	FrameRed Frame = Frame(writeRAMRed)
)

// Mode selects the initialization variant and refresh waveform.
type Mode int

const (
	ModeFull Mode = iota
	ModeFast
	ModePartial
	ModeGray4
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeFast:
		return "fast"
	case ModePartial:
		return "partial"
	case ModeGray4:
		return "gray4"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// modeConfig captures how the four vendor init sequences differ. Everything
// else (reset, busy-wait, booster block, addressing) is shared.
type modeConfig struct {
	refresh     byte // display update control 2 activation byte
	tempPreload bool // fast mode: preload the temperature register
	needsLUT    bool // gray mode: waveform table must be loaded first
	partialInit bool // reduced register subset after a repeated hw reset
}

var modeConfigs = map[Mode]modeConfig{
	ModeFull:    {refresh: 0xF7},
	ModeFast:    {refresh: 0xC7, tempPreload: true},
	ModePartial: {refresh: 0xFF, partialInit: true},
	ModeGray4:   {refresh: 0xC7, needsLUT: true},
}

// State is the driver session state as reported to callers.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateSleeping:
		return "sleeping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timing bounds the busy-wait. Zero values select the defaults.
type Timing struct {
	// PollInterval is the busy line sampling period (default 20ms). The
	// same duration is used as the post-clear settle delay.
	PollInterval time.Duration
	// BusyTimeout bounds a single busy-wait (default 30s). The vendor code
	// waits forever; a dead panel then hangs the process, so the wait is
	// bounded here and surfaces ErrDeviceNotResponding.
	BusyTimeout time.Duration
}

const (
	defaultPollInterval = 20 * time.Millisecond
	defaultBusyTimeout  = 30 * time.Second
)

// Driver owns the bus and sequences commands to the panel. It is not safe
// for concurrent use; the caller runs one refresh at a time.
type Driver struct {
	bus     Bus
	profile *Profile

	pollInterval time.Duration
	busyTimeout  time.Duration

	state     State
	mode      Mode
	lutLoaded bool
}

// NewDriver wraps an already-constructed (but not necessarily opened) bus.
func NewDriver(bus Bus, profile *Profile, t Timing) *Driver {
	if t.PollInterval <= 0 {
		t.PollInterval = defaultPollInterval
	}
	if t.BusyTimeout <= 0 {
		t.BusyTimeout = defaultBusyTimeout
	}
	return &Driver{
		bus:          bus,
		profile:      profile,
		pollInterval: t.PollInterval,
		busyTimeout:  t.BusyTimeout,
	}
}

// State reports the current session state.
func (d *Driver) State() State { return d.state }

// Mode reports the mode of the last successful Init.
func (d *Driver) Mode() Mode { return d.mode }

// Profile returns the panel profile the driver was built with.
func (d *Driver) Profile() *Profile { return d.profile }

// Open acquires the underlying bus. Must be called once before Init.
func (d *Driver) Open() error {
	if err := d.bus.Init(); err != nil {
		return err
	}
	return nil
}

// Reset toggles the hardware reset line (20ms asserted, 2ms released, 20ms
// asserted again) and revives a sleeping session.
func (d *Driver) Reset() error {
	if d.state == StateSleeping {
		// Deep sleep released the bus; reacquire it.
		if err := d.bus.Init(); err != nil {
			return err
		}
		d.state = StateUninitialized
		d.lutLoaded = false
	}
	steps := []struct {
		high bool
		wait time.Duration
	}{
		{true, 20 * time.Millisecond},
		{false, 2 * time.Millisecond},
		{true, 20 * time.Millisecond},
	}
	for _, s := range steps {
		if err := d.bus.DigitalWrite(PinReset, s.high); err != nil {
			return &BusError{Op: "reset", Err: err}
		}
		d.bus.Sleep(s.wait)
	}
	return nil
}

// WaitUntilIdle polls the busy line until it clears, then waits one extra
// poll interval for the panel to settle. Returns ErrDeviceNotResponding if
// the line stays asserted past the configured bound.
func (d *Driver) WaitUntilIdle() error {
	deadline := time.Now().Add(d.busyTimeout)
	for {
		busy, err := d.bus.DigitalRead(PinBusy)
		if err != nil {
			return &BusError{Op: "busy poll", Err: err}
		}
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: busy for more than %v", ErrDeviceNotResponding, d.busyTimeout)
		}
		d.bus.Sleep(d.pollInterval)
	}
	d.bus.Sleep(d.pollInterval)
	return nil
}

// SendCommand writes a single command opcode with DC held low.
func (d *Driver) SendCommand(op byte) error {
	if d.state == StateSleeping {
		return ErrSleeping
	}
	return d.transfer("command", false, []byte{op})
}

// SendData writes a single data byte with DC held high.
func (d *Driver) SendData(b byte) error {
	return d.SendDataBulk([]byte{b})
}

// SendDataBulk writes a data payload with DC held high.
func (d *Driver) SendDataBulk(data []byte) error {
	if d.state == StateSleeping {
		return ErrSleeping
	}
	return d.transfer("data", true, data)
}

// transfer performs one bus transaction with the DC line set for the byte
// kind and CS asserted only for the duration of the transfer.
func (d *Driver) transfer(op string, dcHigh bool, data []byte) error {
	if err := d.bus.DigitalWrite(PinDC, dcHigh); err != nil {
		return &BusError{Op: op, Err: err}
	}
	if err := d.bus.DigitalWrite(PinCS, false); err != nil {
		return &BusError{Op: op, Err: err}
	}
	werr := d.bus.WriteBytes(data)
	if err := d.bus.DigitalWrite(PinCS, true); err != nil && werr == nil {
		werr = err
	}
	if werr != nil {
		return &BusError{Op: op, Err: werr}
	}
	return nil
}

// command sends an opcode followed by its payload.
func (d *Driver) command(op byte, payload ...byte) error {
	if err := d.SendCommand(op); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	return d.SendDataBulk(payload)
}

// SetWindow programs the RAM X/Y address window. X spans 10 bits (low byte,
// high 2 bits), Y spans 16 bits (low byte, high byte).
func (d *Driver) SetWindow(x0, y0, x1, y1 int) error {
	if err := d.command(setRAMXAddressStartEndPosition,
		byte(x0&0xFF), byte((x0>>8)&0x03),
		byte(x1&0xFF), byte((x1>>8)&0x03)); err != nil {
		return err
	}
	return d.command(setRAMYAddressStartEndPosition,
		byte(y0&0xFF), byte((y0>>8)&0xFF),
		byte(y1&0xFF), byte((y1>>8)&0xFF))
}

// SetCursor programs the RAM write pointer, same field layout as SetWindow.
func (d *Driver) SetCursor(x, y int) error {
	if err := d.command(setRAMXAddressCounter,
		byte(x&0xFF), byte((x>>8)&0x03)); err != nil {
		return err
	}
	return d.command(setRAMYAddressCounter,
		byte(y&0xFF), byte((y>>8)&0xFF))
}

// LoadLUT writes the 4-gray waveform table: 105 bytes to the LUT register,
// then the gate line width, gate driving voltage and VCOM trailer bytes.
// Loaded at most once per session.
func (d *Driver) LoadLUT() error {
	if d.lutLoaded {
		return nil
	}
	lut := d.profile.GrayLUT
	if err := d.command(writeLutRegister, lut[:105]...); err != nil {
		return err
	}
	if err := d.command(gateLineWidth, lut[105]); err != nil {
		return err
	}
	if err := d.command(gateDrivingVoltageControl, lut[106], lut[107], lut[108]); err != nil {
		return err
	}
	if err := d.command(writeVcomRegister, lut[109]); err != nil {
		return err
	}
	d.lutLoaded = true
	return nil
}

// Init runs the mode-specific power-up sequence and leaves the session
// Ready. All four variants share the hardware reset, the busy-wait and the
// booster block; the differences are captured by modeConfig.
func (d *Driver) Init(mode Mode) error {
	cfg, ok := modeConfigs[mode]
	if !ok {
		return fmt.Errorf("epd: unknown mode %v", mode)
	}

	if err := d.Reset(); err != nil {
		return err
	}

	if cfg.partialInit {
		if err := d.initPartial(); err != nil {
			return err
		}
	} else {
		if err := d.initCommon(cfg); err != nil {
			return err
		}
	}

	if err := d.WaitUntilIdle(); err != nil {
		return err
	}

	if cfg.tempPreload {
		if err := d.tempPreload(); err != nil {
			return err
		}
	}
	if cfg.needsLUT {
		if err := d.LoadLUT(); err != nil {
			return err
		}
	}

	d.state = StateReady
	d.mode = mode
	return nil
}

// initCommon is the shared full/fast/gray register sequence.
func (d *Driver) initCommon(cfg modeConfig) error {
	if err := d.WaitUntilIdle(); err != nil {
		return err
	}
	if err := d.SendCommand(swReset); err != nil {
		return err
	}
	if err := d.WaitUntilIdle(); err != nil {
		return err
	}

	h := d.profile.Height
	steps := []struct {
		op      byte
		payload []byte
	}{
		{tempSensorSelect, []byte{0x80}},
		{boosterSoftStartControl, d.profile.BoosterSoftStart},
		{driverOutputControl, []byte{byte((h - 1) % 256), byte((h - 1) / 256), 0x02}},
		{borderWaveformControl, []byte{0x01}},
		{dataEntryModeSetting, []byte{0x01}},
	}
	for _, s := range steps {
		if err := d.command(s.op, s.payload...); err != nil {
			return err
		}
	}

	if err := d.SetWindow(0, h-1, d.profile.Width-1, 0); err != nil {
		return err
	}
	return d.SetCursor(0, 0)
}

// initPartial is the reduced register subset used for the partial waveform.
// The vendor sequence omits the software reset, booster and the third
// driver-output byte, and selects the partial border waveform.
func (d *Driver) initPartial() error {
	h := d.profile.Height
	steps := []struct {
		op      byte
		payload []byte
	}{
		{tempSensorSelect, []byte{0x80}},
		{borderWaveformControl, []byte{0x80}},
		{driverOutputControl, []byte{byte((h - 1) % 256), byte((h - 1) / 256)}},
		{dataEntryModeSetting, []byte{0x01}},
	}
	for _, s := range steps {
		if err := d.command(s.op, s.payload...); err != nil {
			return err
		}
	}

	if err := d.SetWindow(0, h-1, d.profile.Width-1, 0); err != nil {
		return err
	}
	return d.SetCursor(0, 0)
}

// tempPreload loads the fast-mode temperature value into the panel. This is
// what makes the fast waveform faster: the controller skips the on-die
// temperature measurement.
func (d *Driver) tempPreload() error {
	if err := d.command(tempSensorRegWrite, 0x5A); err != nil {
		return err
	}
	if err := d.command(displayUpdateControl2, 0x91); err != nil {
		return err
	}
	if err := d.SendCommand(masterActivation); err != nil {
		return err
	}
	return d.WaitUntilIdle()
}

// WriteFrame transmits a packed 1bpp buffer into the selected on-chip frame
// buffer. The session must be Ready.
func (d *Driver) WriteFrame(f Frame, data []byte) error {
	if d.state != StateReady {
		return fmt.Errorf("epd: write frame in state %v", d.state)
	}
	if want := d.profile.BufferSizeMono(); len(data) != want {
		return fmt.Errorf("epd: frame buffer is %d bytes, want %d", len(data), want)
	}
	if err := d.SendCommand(byte(f)); err != nil {
		return err
	}
	return d.SendDataBulk(data)
}

// TriggerRefresh writes the per-mode activation byte to display update
// control 2, issues master activation, and blocks until the panel is idle.
func (d *Driver) TriggerRefresh(mode Mode) error {
	cfg, ok := modeConfigs[mode]
	if !ok {
		return fmt.Errorf("epd: unknown mode %v", mode)
	}
	if err := d.command(displayUpdateControl2, cfg.refresh); err != nil {
		return err
	}
	if err := d.SendCommand(masterActivation); err != nil {
		return err
	}
	return d.WaitUntilIdle()
}

// Sleep puts the panel into deep sleep and releases the bus. Terminal: only
// Reset (or Init, which resets first) revives the session.
func (d *Driver) Sleep() error {
	if d.state == StateSleeping {
		return nil
	}
	if err := d.command(deepSleepMode, 0x01); err != nil {
		return err
	}
	d.bus.Sleep(2 * time.Second)
	d.state = StateSleeping
	d.lutLoaded = false
	return d.bus.Close()
}
