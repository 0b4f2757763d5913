package gpio

import (
	"sync"

	"github.com/cjeanneret/SteerGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is the abstract GPIO interface. SteerGo only needs it for the
// motor power enable line, but it stays generic so the Raspberry Pi
// implementation and the mock can be swapped by configuration.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver keeps pin levels in memory and logs every access.
// Used for development on a PC and in tests.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver, otherwise the go-rpio driver.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	return nil
}

// ReadPin returns the last level written to pin, Low if never written.
func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
