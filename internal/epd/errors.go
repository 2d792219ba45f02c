package epd

import (
	"errors"
	"fmt"
)

var (
	// ErrHardwareInit reports that the SPI/GPIO layer could not be acquired.
	ErrHardwareInit = errors.New("epd: hardware init failed")

	// ErrDeviceNotResponding reports that the busy line did not clear
	// within the configured bound.
	ErrDeviceNotResponding = errors.New("epd: device not responding")

	// ErrSleeping reports a command issued after Sleep without Reset.
	ErrSleeping = errors.New("epd: display is in deep sleep")
)

// BusError wraps a failed bus transaction with the operation that issued it.
// The in-progress driver operation is aborted; the session keeps its prior
// reported state.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("epd: bus transaction failed during %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
