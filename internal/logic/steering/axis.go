package steering

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SteerGo/internal/hw/claw"
)

// maxMagnitude is the largest drive magnitude the controller accepts.
const maxMagnitude = 255

// Gains are the fixed control constants of one axis.
type Gains struct {
	Kp       float64 // proportional gain
	QPPS     float64 // encoder counts per target angle unit
	Deadzone int64   // half-width of the hold band, in counts
	Kick     int64   // minimum drive added outside the deadzone
	Mirrored bool    // motor mounted opposite: forward and backward swap
}

// Command is one drive primitive with its magnitude.
type Command struct {
	Direction claw.Direction
	Magnitude uint8
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%d)", c.Direction, c.Magnitude)
}

// Step is the outcome of one control update, kept for telemetry.
type Step struct {
	Target      float64 `json:"target"`
	Encoder     int32   `json:"encoder"`
	TargetCount int64   `json:"target_count"`
	Error       int64   `json:"error"`
	Output      int64   `json:"output"`
	Command     Command `json:"-"`
}

// TargetCount converts a target angle to an absolute encoder count.
// It truncates toward zero and saturates to the int32 range; NaN gives 0.
func TargetCount(qpps, target float64) int64 {
	return truncate(qpps*target, math.MinInt32, math.MaxInt32)
}

func truncate(v float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v <= float64(lo):
		return lo
	case v >= float64(hi):
		return hi
	}
	return int64(v)
}

func clampMagnitude(v int64) uint8 {
	if v < 0 {
		return 0
	}
	if v > maxMagnitude {
		return maxMagnitude
	}
	return uint8(v)
}

// Compute applies the control law for a target angle and encoder count.
//
// Below the band the axis advances with raw+kick, above it retreats with
// -(raw-kick); both are clamped to [0, 255]. Inside the band it holds with
// Forward(0), whatever the mirroring.
func (g Gains) Compute(target float64, enc int32) Step {
	tc := TargetCount(g.QPPS, target)
	e := tc - int64(enc)
	raw := truncate(g.Kp*float64(e), math.MinInt32, math.MaxInt32)

	advance, retreat := claw.Forward, claw.Backward
	if g.Mirrored {
		advance, retreat = retreat, advance
	}

	st := Step{Target: target, Encoder: enc, TargetCount: tc, Error: e}
	switch {
	case int64(enc) < tc-g.Deadzone:
		st.Output = raw + g.Kick
		st.Command = Command{Direction: advance, Magnitude: clampMagnitude(st.Output)}
	case int64(enc) > tc+g.Deadzone:
		st.Output = raw - g.Kick
		st.Command = Command{Direction: retreat, Magnitude: clampMagnitude(-st.Output)}
	default:
		st.Command = Command{Direction: claw.Forward}
	}
	return st
}

// Axis is one motor of a unit. Its target is written by the dispatcher and
// read by the control loop, so it is stored atomically.
type Axis struct {
	name    string
	channel claw.Channel
	gains   Gains
	target  atomic.Uint64 // float64 bits
}

func NewAxis(name string, ch claw.Channel, g Gains) *Axis {
	return &Axis{name: name, channel: ch, gains: g}
}

func (a *Axis) Name() string          { return a.name }
func (a *Axis) Channel() claw.Channel { return a.channel }
func (a *Axis) Gains() Gains          { return a.gains }

// SetTarget stores a new target angle. The last write wins.
func (a *Axis) SetTarget(angle float64) {
	a.target.Store(math.Float64bits(angle))
}

func (a *Axis) Target() float64 {
	return math.Float64frombits(a.target.Load())
}

// Update reads the encoder, computes the command and sends it.
func (a *Axis) Update(d claw.Driver) (Step, error) {
	enc, _, err := d.ReadEncoder(a.channel)
	if err != nil {
		return Step{}, errors.Wrapf(err, "%s", a.name)
	}
	st := a.gains.Compute(a.Target(), enc)
	if err := claw.Drive(d, a.channel, st.Command.Direction, st.Command.Magnitude); err != nil {
		return st, errors.Wrapf(err, "%s", a.name)
	}
	return st, nil
}

// Stop sends Forward(0).
func (a *Axis) Stop(d claw.Driver) error {
	return errors.Wrapf(d.DriveForward(a.channel, 0), "%s stop", a.name)
}
