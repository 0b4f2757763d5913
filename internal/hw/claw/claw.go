package claw

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Channel selects one of the two motor outputs of a controller board.
type Channel int

const (
	M1 Channel = iota + 1
	M2
)

func (c Channel) String() string {
	switch c {
	case M1:
		return "M1"
	case M2:
		return "M2"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// Direction is the drive primitive used for a command. The device has no
// signed drive command: direction is chosen by primitive, magnitude is 0-255.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Opposite returns the other drive primitive.
func (d Direction) Opposite() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// Driver is one physical motor-controller board with two channels.
// Implementations are not safe for concurrent use: the control loop
// is the only caller once running.
type Driver interface {
	// ResetEncoders zeroes both quadrature encoder counters.
	ResetEncoders() error
	// ReadEncoder returns the signed count and the encoder status byte.
	ReadEncoder(ch Channel) (count int32, status uint8, err error)
	DriveForward(ch Channel, magnitude uint8) error
	DriveBackward(ch Channel, magnitude uint8) error
	// ReadStatus returns the controller's 16-bit status word.
	ReadStatus() (uint16, error)
	// ReadVersion returns the firmware banner, e.g. "USB Roboclaw 2x7a v4.1.34".
	ReadVersion() (string, error)
	Close() error
}

// Drive issues dir with magnitude on ch.
func Drive(d Driver, ch Channel, dir Direction, magnitude uint8) error {
	if dir == Backward {
		return d.DriveBackward(ch, magnitude)
	}
	return d.DriveForward(ch, magnitude)
}

// Params are the connection parameters of one board.
type Params struct {
	Address     uint8         // packet serial address, 0x80-0x87
	Port        string        // e.g. /dev/ttyACM0
	BaudRate    int           // e.g. 9600
	ReadTimeout time.Duration // per-read serial timeout; 0 = 100ms

	// FirmwareConstraint is a semver constraint such as ">= 4.1.0".
	// Empty disables the version check.
	FirmwareConstraint string
}

var (
	ErrNoAck               = errors.New("claw: command not acknowledged")
	ErrCRC                 = errors.New("claw: reply checksum mismatch")
	ErrShortRead           = errors.New("claw: reply timed out")
	ErrUnsupportedFirmware = errors.New("claw: unsupported firmware")
	ErrBadChannel          = errors.New("claw: unknown channel")
)
