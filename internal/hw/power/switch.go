package power

import (
	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/gpio"
)

// Config describes the motor power enable line.
type Config struct {
	EnablePin int  // BCM pin driving the motor power relay. 0 = not used.
	ActiveLow bool // true if the relay closes on LOW
}

// Switch gates motor power through a single GPIO output. It starts
// disabled: the loop only enables it once every motor has been zeroed.
type Switch struct {
	gpio gpio.Driver
	cfg  Config
}

// NewSwitch configures the enable pin as an output in the disabled state.
// With EnablePin = 0 the switch is a no-op.
func NewSwitch(g gpio.Driver, cfg Config) (*Switch, error) {
	s := &Switch{gpio: g, cfg: cfg}
	if cfg.EnablePin <= 0 {
		return s, nil
	}
	if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
		return nil, err
	}
	if err := s.Disable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Switch) level(on bool) gpio.Level {
	if s.cfg.ActiveLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// Enable powers the motor drivers.
func (s *Switch) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	debug.Verbose("Motor power ON (pin %d)", s.cfg.EnablePin)
	return s.gpio.WritePin(s.cfg.EnablePin, s.level(true))
}

// Disable cuts motor power. Motors freewheel.
func (s *Switch) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	debug.Verbose("Motor power OFF (pin %d)", s.cfg.EnablePin)
	return s.gpio.WritePin(s.cfg.EnablePin, s.level(false))
}
