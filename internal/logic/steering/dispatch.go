package steering

import "github.com/pkg/errors"

// DefaultFirstIndex is where the steering angles start in a directive.
const DefaultFirstIndex = 6

// ErrShortDirective is returned for a directive that does not reach every axis.
var ErrShortDirective = errors.New("steering: directive too short")

// Dispatcher fans a directive out to axis targets: data[first+2i+j] goes to
// axis j of unit i. It does not check ranges.
type Dispatcher struct {
	first int
	axes  []*Axis
}

func NewDispatcher(first int, units ...*Unit) *Dispatcher {
	if first < 0 {
		first = 0
	}
	d := &Dispatcher{first: first}
	for _, u := range units {
		d.axes = append(d.axes, u.Axes()...)
	}
	return d
}

// MinLen is the shortest directive accepted.
func (d *Dispatcher) MinLen() int {
	return d.first + len(d.axes)
}

// Dispatch writes the targets. A short directive is rejected whole.
func (d *Dispatcher) Dispatch(data []float64) error {
	if len(data) < d.MinLen() {
		return errors.Wrapf(ErrShortDirective, "got %d values, need %d", len(data), d.MinLen())
	}
	for i, a := range d.axes {
		a.SetTarget(data[d.first+i])
	}
	return nil
}
