package claw

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/cjeanneret/SteerGo/internal/debug"
)

// Packet serial commands.
const (
	cmdForwardM1   = 0
	cmdBackwardM1  = 1
	cmdForwardM2   = 4
	cmdBackwardM2  = 5
	cmdReadEncM1   = 16
	cmdReadEncM2   = 17
	cmdResetEnc    = 20
	cmdReadVersion = 21
	cmdReadStatus  = 90
)

const (
	ackByte            = 0xFF
	maxTries           = 3
	maxVersionLen      = 48
	defaultReadTimeout = 100 * time.Millisecond
)

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

// RoboClaw talks packet serial to one RoboClaw board.
//
// Write frames are [address, command, data..., crc16]; the board answers
// with a single 0xFF. Read frames are [address, command]; the board answers
// with the payload followed by a crc16 over address, command and payload.
type RoboClaw struct {
	port    io.ReadWriteCloser
	address uint8
}

// Open opens the serial port and, when p.FirmwareConstraint is set, checks
// the firmware version. It does not reset the encoders; that is the
// connector's job.
func Open(p Params) (*RoboClaw, error) {
	mode := &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(p.Port, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p.Port)
	}

	timeout := p.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	if err := sp.SetReadTimeout(timeout); err != nil {
		sp.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", p.Port)
	}

	rc := NewRoboClaw(sp, p.Address)
	if p.FirmwareConstraint != "" {
		banner, err := rc.ReadVersion()
		if err != nil {
			rc.Close()
			return nil, errors.Wrapf(err, "read firmware version on %s", p.Port)
		}
		if err := CheckFirmware(banner, p.FirmwareConstraint); err != nil {
			rc.Close()
			return nil, err
		}
		debug.Verbose("%s: firmware %q", p.Port, banner)
	}
	return rc, nil
}

// NewRoboClaw wraps an already opened port.
func NewRoboClaw(port io.ReadWriteCloser, address uint8) *RoboClaw {
	return &RoboClaw{port: port, address: address}
}

func (r *RoboClaw) ResetEncoders() error {
	return r.write(cmdResetEnc)
}

func (r *RoboClaw) ReadEncoder(ch Channel) (int32, uint8, error) {
	var cmd byte
	switch ch {
	case M1:
		cmd = cmdReadEncM1
	case M2:
		cmd = cmdReadEncM2
	default:
		return 0, 0, errors.Wrapf(ErrBadChannel, "read encoder %v", ch)
	}

	payload, err := r.read(cmd, 5)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read encoder %v", ch)
	}
	return int32(binary.BigEndian.Uint32(payload[:4])), payload[4], nil
}

func (r *RoboClaw) DriveForward(ch Channel, magnitude uint8) error {
	return r.drive(ch, Forward, magnitude)
}

func (r *RoboClaw) DriveBackward(ch Channel, magnitude uint8) error {
	return r.drive(ch, Backward, magnitude)
}

func (r *RoboClaw) drive(ch Channel, dir Direction, magnitude uint8) error {
	var cmd byte
	switch {
	case ch == M1 && dir == Forward:
		cmd = cmdForwardM1
	case ch == M1 && dir == Backward:
		cmd = cmdBackwardM1
	case ch == M2 && dir == Forward:
		cmd = cmdForwardM2
	case ch == M2 && dir == Backward:
		cmd = cmdBackwardM2
	default:
		return errors.Wrapf(ErrBadChannel, "drive %v", ch)
	}
	return errors.Wrapf(r.write(cmd, magnitude), "drive %v %v(%d)", ch, dir, magnitude)
}

func (r *RoboClaw) ReadStatus() (uint16, error) {
	payload, err := r.read(cmdReadStatus, 2)
	if err != nil {
		return 0, errors.Wrap(err, "read status")
	}
	return binary.BigEndian.Uint16(payload), nil
}

// ReadVersion reads the NUL terminated firmware banner.
func (r *RoboClaw) ReadVersion() (string, error) {
	req := []byte{r.address, cmdReadVersion}
	var err error
	for try := 0; try < maxTries; try++ {
		r.flush()
		if err = r.send(req); err != nil {
			return "", err
		}

		var banner []byte
		banner, err = r.readString()
		if err != nil {
			if errors.Is(err, ErrShortRead) {
				continue
			}
			return "", err
		}

		var sum [2]byte
		if err = r.readFull(sum[:]); err != nil {
			if errors.Is(err, ErrShortRead) {
				continue
			}
			return "", err
		}
		if binary.BigEndian.Uint16(sum[:]) != crc16(req, banner) {
			err = ErrCRC
			continue
		}
		return trimBanner(banner), nil
	}
	return "", errors.Wrap(err, "read version")
}

// readString reads up to and including the NUL terminator.
func (r *RoboClaw) readString() ([]byte, error) {
	var out []byte
	var b [1]byte
	for len(out) < maxVersionLen {
		if err := r.readFull(b[:]); err != nil {
			return nil, err
		}
		out = append(out, b[0])
		if b[0] == 0 {
			return out, nil
		}
	}
	return out, nil
}

func trimBanner(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == '\n' || b[end-1] == '\r') {
		end--
	}
	return string(b[:end])
}

func (r *RoboClaw) Close() error {
	return r.port.Close()
}

// write sends a command frame and waits for the ack byte.
func (r *RoboClaw) write(cmd byte, data ...byte) error {
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, r.address, cmd)
	frame = append(frame, data...)
	sum := crc16(frame)
	frame = append(frame, byte(sum>>8), byte(sum))

	for try := 0; try < maxTries; try++ {
		r.flush()
		if err := r.send(frame); err != nil {
			return err
		}
		var reply [1]byte
		err := r.readFull(reply[:])
		if err != nil && !errors.Is(err, ErrShortRead) {
			return err
		}
		if err == nil && reply[0] == ackByte {
			return nil
		}
	}
	return errors.Wrapf(ErrNoAck, "command %d", cmd)
}

// read sends a read request and returns n verified payload bytes.
func (r *RoboClaw) read(cmd byte, n int) ([]byte, error) {
	req := []byte{r.address, cmd}
	var err error
	for try := 0; try < maxTries; try++ {
		r.flush()
		if err = r.send(req); err != nil {
			return nil, err
		}
		buf := make([]byte, n+2)
		if err = r.readFull(buf); err != nil {
			if errors.Is(err, ErrShortRead) {
				continue
			}
			return nil, err
		}
		payload := buf[:n]
		if binary.BigEndian.Uint16(buf[n:]) != crc16(req, payload) {
			err = ErrCRC
			continue
		}
		return payload, nil
	}
	return nil, err
}

func (r *RoboClaw) send(frame []byte) error {
	debug.Serial("tx", r.address, frame)
	if _, err := r.port.Write(frame); err != nil {
		return errors.Wrap(err, "serial write")
	}
	return nil
}

// readFull fills buf. A zero-length read is the serial read timeout.
func (r *RoboClaw) readFull(buf []byte) error {
	for got := 0; got < len(buf); {
		n, err := r.port.Read(buf[got:])
		if err != nil {
			return errors.Wrap(err, "serial read")
		}
		if n == 0 {
			return ErrShortRead
		}
		got += n
	}
	debug.Serial("rx", r.address, buf)
	return nil
}

// flush drops stale bytes left over from a previous failed exchange.
func (r *RoboClaw) flush() {
	if ir, ok := r.port.(inputResetter); ok {
		_ = ir.ResetInputBuffer()
	}
}
