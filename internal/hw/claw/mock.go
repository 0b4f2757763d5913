package claw

import (
	"sync"

	"github.com/cjeanneret/SteerGo/internal/debug"
)

// DriveCall is one drive command received by a MockDriver.
type DriveCall struct {
	Channel   Channel
	Direction Direction
	Magnitude uint8
}

// MockDriver simulates a board with two motors for development on a PC.
// Each ReadEncoder advances the channel by the signed magnitude of its last
// drive command divided by 4, so a closed loop converges on it.
type MockDriver struct {
	// Inverted flips the physical response of a channel, like a motor
	// mounted the other way round. Index 0 is M1.
	Inverted [2]bool
	Version  string

	mu     sync.Mutex
	status uint16
	pos    [2]int32
	vel    [2]int32
	calls  []DriveCall
	resets int
	err    error
	closed bool
}

// NewMockDriver returns a mock with M2 inverted, matching the default
// mirrored M2 axis.
func NewMockDriver() *MockDriver {
	debug.Info("Using MockDriver (simulated RoboClaw)")
	return &MockDriver{
		Inverted: [2]bool{false, true},
		Version:  "USB Roboclaw 2x7a v4.1.34",
	}
}

func index(ch Channel) (int, error) {
	switch ch {
	case M1:
		return 0, nil
	case M2:
		return 1, nil
	}
	return 0, ErrBadChannel
}

// SetError makes every following call fail with err. nil clears it.
func (m *MockDriver) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetStatus sets the status word returned by ReadStatus.
func (m *MockDriver) SetStatus(word uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = word
}

// SetEncoder forces the count of a channel.
func (m *MockDriver) SetEncoder(ch Channel, count int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, err := index(ch); err == nil {
		m.pos[i] = count
	}
}

// Calls returns a copy of every drive command received so far.
func (m *MockDriver) Calls() []DriveCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DriveCall(nil), m.calls...)
}

// LastCall returns the last drive command sent to ch.
func (m *MockDriver) LastCall(ch Channel) (DriveCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Channel == ch {
			return m.calls[i], true
		}
	}
	return DriveCall{}, false
}

// Resets returns how many times ResetEncoders was called.
func (m *MockDriver) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Closed reports whether Close was called.
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockDriver) ResetEncoders() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.resets++
	m.pos = [2]int32{}
	return nil
}

func (m *MockDriver) ReadEncoder(ch Channel) (int32, uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	i, err := index(ch)
	if err != nil {
		return 0, 0, err
	}
	m.pos[i] += m.vel[i] / 4
	return m.pos[i], 0, nil
}

func (m *MockDriver) DriveForward(ch Channel, magnitude uint8) error {
	return m.drive(ch, Forward, magnitude)
}

func (m *MockDriver) DriveBackward(ch Channel, magnitude uint8) error {
	return m.drive(ch, Backward, magnitude)
}

func (m *MockDriver) drive(ch Channel, dir Direction, magnitude uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	i, err := index(ch)
	if err != nil {
		return err
	}
	v := int32(magnitude)
	if dir == Backward {
		v = -v
	}
	if m.Inverted[i] {
		v = -v
	}
	m.vel[i] = v
	m.calls = append(m.calls, DriveCall{Channel: ch, Direction: dir, Magnitude: magnitude})
	return nil
}

func (m *MockDriver) ReadStatus() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.status, nil
}

func (m *MockDriver) ReadVersion() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.Version, nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
