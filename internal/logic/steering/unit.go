package steering

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
)

// ErrNotConnected is returned when a unit is used before a driver is bound.
var ErrNotConnected = errors.New("steering: unit not connected")

// Unit is one controller board driving two axes, M1 and M2.
// It's the layer between the control loop and the board driver.
type Unit struct {
	name string
	axes [2]*Axis

	mu        sync.RWMutex
	driver    claw.Driver
	steps     [2]Step
	updated   [2]bool
	status    claw.Status
	hasStatus bool
}

// NewUnit creates a unit with its two axes. The axes exist before any
// board is connected, so targets can be written at any time.
func NewUnit(name string, m1, m2 Gains) *Unit {
	return &Unit{
		name: name,
		axes: [2]*Axis{
			NewAxis(name+"/M1", claw.M1, m1),
			NewAxis(name+"/M2", claw.M2, m2),
		},
	}
}

func (u *Unit) Name() string { return u.name }
func (u *Unit) M1() *Axis    { return u.axes[0] }
func (u *Unit) M2() *Axis    { return u.axes[1] }

// Axes returns M1 then M2.
func (u *Unit) Axes() []*Axis { return u.axes[:] }

// Bind attaches a connected driver. The connector has already reset the
// encoders.
func (u *Unit) Bind(d claw.Driver) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.driver = d
}

func (u *Unit) Driver() claw.Driver {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.driver
}

func (u *Unit) Connected() bool {
	return u.Driver() != nil
}

// Update advances M1 then M2 and returns the first error.
func (u *Unit) Update() error {
	d := u.Driver()
	if d == nil {
		return errors.Wrap(ErrNotConnected, u.name)
	}
	for i, a := range u.axes {
		st, err := a.Update(d)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.steps[i] = st
		u.updated[i] = true
		u.mu.Unlock()
		debug.Drive(u.name, a.channel.String(), st.Error, st.Target, st.Encoder, st.Output, st.Command.String())
	}
	return nil
}

// Stop sends Forward(0) to both motors. Both are always attempted.
func (u *Unit) Stop() error {
	d := u.Driver()
	if d == nil {
		return errors.Wrap(ErrNotConnected, u.name)
	}
	return multierr.Combine(u.axes[0].Stop(d), u.axes[1].Stop(d))
}

// PollStatus reads and decodes the status word. changed reports whether
// the worst severity differs from the previous poll; before the first
// poll the unit is assumed OK.
func (u *Unit) PollStatus() (st claw.Status, changed bool, err error) {
	d := u.Driver()
	if d == nil {
		return st, false, errors.Wrap(ErrNotConnected, u.name)
	}
	word, err := d.ReadStatus()
	if err != nil {
		return st, false, errors.Wrap(err, u.name)
	}
	st = claw.DecodeStatus(word)

	u.mu.Lock()
	defer u.mu.Unlock()
	changed = st.Severity != u.status.Severity
	u.status = st
	u.hasStatus = true
	return st, changed, nil
}

// Close releases the driver.
func (u *Unit) Close() error {
	u.mu.Lock()
	d := u.driver
	u.driver = nil
	u.mu.Unlock()
	if d == nil {
		return nil
	}
	return errors.Wrapf(d.Close(), "%s close", u.name)
}

// AxisSnapshot is the telemetry of one axis.
type AxisSnapshot struct {
	Name        string  `json:"name"`
	Target      float64 `json:"target"`
	Encoder     int32   `json:"encoder"`
	TargetCount int64   `json:"target_count"`
	Error       int64   `json:"error"`
	Output      int64   `json:"output"`
	Command     string  `json:"command,omitempty"`
}

// UnitSnapshot is the telemetry of one unit.
type UnitSnapshot struct {
	Name      string         `json:"name"`
	Connected bool           `json:"connected"`
	Axes      []AxisSnapshot `json:"axes"`
	Status    *claw.Status   `json:"status,omitempty"`
}

// Snapshot copies the last steps. Targets are the current ones.
func (u *Unit) Snapshot() UnitSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()

	snap := UnitSnapshot{Name: u.name, Connected: u.driver != nil}
	for i, a := range u.axes {
		as := AxisSnapshot{Name: a.name, Target: a.Target()}
		if u.updated[i] {
			st := u.steps[i]
			as.Encoder = st.Encoder
			as.TargetCount = st.TargetCount
			as.Error = st.Error
			as.Output = st.Output
			as.Command = st.Command.String()
		}
		snap.Axes = append(snap.Axes, as)
	}
	if u.hasStatus {
		st := u.status
		snap.Status = &st
	}
	return snap
}
