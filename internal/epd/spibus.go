package epd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPIBus is the periph.io-backed Bus used on real hardware. On a Raspberry
// Pi the SPI port is /dev/spidev0.0 and the control lines are plain GPIOs.
type SPIBus struct {
	profile *Profile

	port spi.PortCloser
	conn spi.Conn

	rst  gpio.PinOut
	dc   gpio.PinOut
	cs   gpio.PinOut
	busy gpio.PinIn
}

// NewSPIBus returns an unopened bus for the given panel wiring. Call Init
// before use.
func NewSPIBus(profile *Profile) *SPIBus {
	return &SPIBus{profile: profile}
}

// Init initializes the periph.io host, opens the default SPI port and
// configures all GPIO lines. Failures wrap ErrHardwareInit.
func (b *SPIBus) Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("%w: periph host: %v", ErrHardwareInit, err)
	}

	port, err := spireg.Open("")
	if err != nil {
		return fmt.Errorf("%w: open SPI port: %v", ErrHardwareInit, err)
	}

	conn, err := port.Connect(physic.Frequency(b.profile.SPIHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: connect SPI: %v", ErrHardwareInit, err)
	}

	gpioOut := func(num int, initial gpio.Level) (gpio.PinOut, error) {
		name := fmt.Sprintf("GPIO%d", num)
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: gpio %s not found", ErrHardwareInit, name)
		}
		if err := p.Out(initial); err != nil {
			return nil, fmt.Errorf("%w: gpio %s: %v", ErrHardwareInit, name, err)
		}
		return p, nil
	}

	if b.rst, err = gpioOut(b.profile.ResetPin, gpio.High); err == nil {
		if b.dc, err = gpioOut(b.profile.DCPin, gpio.Low); err == nil {
			b.cs, err = gpioOut(b.profile.CSPin, gpio.High)
		}
	}
	if err != nil {
		_ = port.Close()
		return err
	}

	busyName := fmt.Sprintf("GPIO%d", b.profile.BusyPin)
	busy := gpioreg.ByName(busyName)
	if busy == nil {
		_ = port.Close()
		return fmt.Errorf("%w: gpio %s not found", ErrHardwareInit, busyName)
	}
	if err := busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: gpio %s: %v", ErrHardwareInit, busyName, err)
	}
	b.busy = busy

	b.port = port
	b.conn = conn
	return nil
}

func (b *SPIBus) pinOut(p Pin) gpio.PinOut {
	switch p {
	case PinReset:
		return b.rst
	case PinDC:
		return b.dc
	case PinCS:
		return b.cs
	default:
		return nil
	}
}

func (b *SPIBus) DigitalWrite(p Pin, high bool) error {
	pin := b.pinOut(p)
	if pin == nil {
		return fmt.Errorf("epd: pin %s is not an output", p)
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return pin.Out(level)
}

func (b *SPIBus) DigitalRead(p Pin) (bool, error) {
	if p != PinBusy {
		return false, fmt.Errorf("epd: pin %s is not an input", p)
	}
	return b.busy.Read() == gpio.High, nil
}

// spidev rejects transfers above its buffer size (4096 by default on the
// Pi), so frame payloads are clocked out in chunks.
const maxTransfer = 4096

func (b *SPIBus) WriteBytes(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxTransfer {
			n = maxTransfer
		}
		if err := b.conn.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (b *SPIBus) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Close releases the SPI port. periph.io GPIO pins need no explicit close.
func (b *SPIBus) Close() error {
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	b.conn = nil
	return err
}

var _ Bus = (*SPIBus)(nil)
