package epd

import (
	"fmt"
	"time"
)

// Transaction is one decoded command with the data bytes that followed it,
// reconstructed from the DC line state around each SPI write.
type Transaction struct {
	Cmd  byte
	Data []byte
}

// MockBus is an in-memory Bus for development and tests, in the same spirit
// as running the application with no panel attached. It records the full
// command/data stream, simulates the busy line, and can inject transfer
// failures at a chosen write.
type MockBus struct {
	// BusyPolls is the number of DigitalRead calls on the busy pin that
	// report busy before the line clears. AlwaysBusy keeps it asserted
	// forever, for exercising the wait bound.
	BusyPolls  int
	AlwaysBusy bool

	// FailAtWrite makes the n-th WriteBytes call (0-based) fail; negative
	// disables injection.
	FailAtWrite int
	// InitErr, when set, is returned by Init.
	InitErr error

	// Recorded state.
	Transactions []Transaction
	BusyReads    int
	Writes       int
	Slept        []time.Duration
	Closed       bool

	levels map[Pin]bool
	opened bool
}

// NewMockBus returns a mock bus whose busy line reads idle and which never
// fails a transfer.
func NewMockBus() *MockBus {
	return &MockBus{FailAtWrite: -1}
}

func (m *MockBus) Init() error {
	if m.InitErr != nil {
		return m.InitErr
	}
	if m.levels == nil {
		m.levels = map[Pin]bool{PinReset: true, PinCS: true}
	}
	m.opened = true
	return nil
}

func (m *MockBus) DigitalWrite(p Pin, high bool) error {
	if m.levels == nil {
		m.levels = map[Pin]bool{}
	}
	m.levels[p] = high
	return nil
}

func (m *MockBus) DigitalRead(p Pin) (bool, error) {
	if p != PinBusy {
		return false, fmt.Errorf("epd: pin %s is not an input", p)
	}
	m.BusyReads++
	if m.AlwaysBusy {
		return true, nil
	}
	if m.BusyPolls > 0 {
		m.BusyPolls--
		return true, nil
	}
	return false, nil
}

func (m *MockBus) WriteBytes(data []byte) error {
	n := m.Writes
	m.Writes++
	if m.FailAtWrite >= 0 && n == m.FailAtWrite {
		return fmt.Errorf("mock transfer failure at write %d", n)
	}
	if m.levels[PinDC] {
		// Data: belongs to the preceding command.
		if len(m.Transactions) == 0 {
			m.Transactions = append(m.Transactions, Transaction{})
		}
		cur := &m.Transactions[len(m.Transactions)-1]
		cur.Data = append(cur.Data, data...)
	} else {
		m.Transactions = append(m.Transactions, Transaction{Cmd: data[0]})
	}
	return nil
}

// Sleep only records the requested duration; mock time never passes.
func (m *MockBus) Sleep(d time.Duration) {
	m.Slept = append(m.Slept, d)
}

func (m *MockBus) Close() error {
	m.Closed = true
	m.opened = false
	return nil
}

// Level reports the last written level of a control line.
func (m *MockBus) Level(p Pin) bool {
	return m.levels[p]
}

var _ Bus = (*MockBus)(nil)
