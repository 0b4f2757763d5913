package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
	"github.com/cjeanneret/SteerGo/internal/logic/connect"
	"github.com/cjeanneret/SteerGo/internal/logic/steering"
)

// State of the control loop.
type State int

const (
	Startup State = iota
	Connecting
	Zeroed
	Running
	ShuttingDown
	Stopped
)

var stateNames = [...]string{"startup", "connecting", "zeroed", "running", "shutting_down", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Board is a unit and the way to open its controller.
type Board struct {
	Unit *steering.Unit
	Open connect.Opener
}

// Power is the motor power line. *power.Switch implements it.
type Power interface {
	Enable() error
	Disable() error
}

// Config holds the loop timing.
type Config struct {
	Interval    time.Duration // tick period, 50ms for 20 Hz
	StatusEvery int           // poll status words every n ticks; 0 = never

	// OnStatus is called from the loop when a unit's worst status
	// severity changes. May be nil.
	OnStatus func(unit string, st claw.Status)
}

// Driver connects the boards, runs the fixed-rate control loop and stops
// every motor on the way out.
type Driver struct {
	cfg       Config
	connector *connect.Connector
	power     Power
	boards    []Board

	mu    sync.RWMutex
	state State
	err   error
	ticks atomic.Uint64
}

// NewDriver creates a loop over boards, connected in order. power may be nil.
func NewDriver(cfg Config, connector *connect.Connector, power Power, boards ...Board) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	return &Driver{cfg: cfg, connector: connector, power: power, boards: boards}
}

func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	debug.Verbose("Loop state: %s -> %s", prev, s)
}

func (d *Driver) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Run connects, zeroes and runs until ctx is cancelled or a tick fails.
// A connection failure is returned before the loop starts. A clean
// shutdown returns nil.
func (d *Driver) Run(ctx context.Context) error {
	err := d.start(ctx)
	if err == nil {
		d.setState(Running)
		debug.Summary("Steering loop running")
		err = d.run(ctx)
	}

	d.setState(ShuttingDown)
	err = multierr.Append(err, d.shutdown())
	d.setErr(err)
	d.setState(Stopped)
	return err
}

func (d *Driver) start(ctx context.Context) error {
	d.setState(Connecting)
	for _, b := range d.boards {
		drv, err := d.connector.Connect(ctx, b.Unit.Name(), b.Open)
		if err != nil {
			return err
		}
		b.Unit.Bind(drv)
	}

	d.setState(Zeroed)
	if err := d.stopAll(); err != nil {
		return errors.Wrap(err, "zero motors")
	}
	if d.power != nil {
		if err := d.power.Enable(); err != nil {
			return errors.Wrap(err, "enable motor power")
		}
	}
	return nil
}

func (d *Driver) run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := d.tick(); err != nil {
			debug.Error(err)
			return errors.Wrap(err, "control tick")
		}
	}
}

func (d *Driver) tick() error {
	n := d.ticks.Add(1)
	for _, b := range d.boards {
		if err := b.Unit.Update(); err != nil {
			return err
		}
	}

	if d.cfg.StatusEvery <= 0 || n%uint64(d.cfg.StatusEvery) != 0 {
		return nil
	}
	for _, b := range d.boards {
		st, changed, err := b.Unit.PollStatus()
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		switch st.Severity {
		case claw.SeverityError:
			debug.Error(errors.Errorf("%s status %s", b.Unit.Name(), st))
		case claw.SeverityWarn:
			debug.Warn("%s status %s", b.Unit.Name(), st)
		default:
			debug.Info("%s status %s", b.Unit.Name(), st)
		}
		if d.cfg.OnStatus != nil {
			d.cfg.OnStatus(b.Unit.Name(), st)
		}
	}
	return nil
}

// stopAll sends Forward(0) to every motor of every connected unit.
func (d *Driver) stopAll() error {
	var err error
	for _, b := range d.boards {
		if b.Unit.Connected() {
			err = multierr.Append(err, b.Unit.Stop())
		}
	}
	return err
}

// shutdown stops every motor, cuts power and closes the controllers.
func (d *Driver) shutdown() error {
	err := d.stopAll()
	if d.power != nil {
		err = multierr.Append(err, errors.Wrap(d.power.Disable(), "disable motor power"))
	}
	for _, b := range d.boards {
		err = multierr.Append(err, b.Unit.Close())
	}
	if err != nil {
		debug.Error(errors.Wrap(err, "shutdown"))
	} else {
		debug.Info("All motors stopped")
	}
	return err
}

// Snapshot is the telemetry of the whole loop.
type Snapshot struct {
	State State                   `json:"state"`
	Ticks uint64                  `json:"ticks"`
	Error string                  `json:"error,omitempty"`
	Units []steering.UnitSnapshot `json:"units"`
}

func (d *Driver) Snapshot() Snapshot {
	d.mu.RLock()
	snap := Snapshot{State: d.state, Ticks: d.ticks.Load()}
	if d.err != nil {
		snap.Error = d.err.Error()
	}
	d.mu.RUnlock()

	for _, b := range d.boards {
		snap.Units = append(snap.Units, b.Unit.Snapshot())
	}
	return snap
}
