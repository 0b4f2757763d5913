package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives Raspberry Pi GPIOs through go-rpio.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
}

// NewRPiRealDriver memory-maps the GPIO registers.
// Requires /dev/gpiomem access or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup(pin, mode)
}

func (r *RPiDriver) setup(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		if err := r.setup(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		if err := r.setup(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}
	return Level(p.Read() == rpio.High), nil
}

// Close returns every touched pin to input, which releases the motor
// power line, then unmaps the registers.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.Trace("GPIO Close (real driver)")

	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	return rpio.Close()
}
