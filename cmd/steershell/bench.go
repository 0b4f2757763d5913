package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SteerGo/internal/hw/claw"
	"github.com/cjeanneret/SteerGo/internal/logic/steering"
)

const (
	defaultAddress  = 0x81
	defaultBaudRate = 9600
	benchInterval   = 50 * time.Millisecond // 20 Hz, the daemon's default rate
)

var errNoBoard = errors.New("no board connected, use connect first")

// bench is the state of one bench session: a single board and the unit
// driving it.
type bench struct {
	unit     *steering.Unit
	gains    [2]steering.Gains
	interval time.Duration
	out      io.Writer

	// open is claw.Open; tests replace it.
	open func(claw.Params) (claw.Driver, error)
}

func newBench(out io.Writer) *bench {
	g := steering.Gains{Kp: 0.25, QPPS: 5.34, Deadzone: 50, Kick: 10}
	m2 := g
	m2.Mirrored = true
	b := &bench{
		gains:    [2]steering.Gains{g, m2},
		interval: benchInterval,
		out:      out,
		open: func(p claw.Params) (claw.Driver, error) {
			rc, err := claw.Open(p)
			if err != nil {
				return nil, err
			}
			return rc, nil
		},
	}
	b.unit = steering.NewUnit("bench", b.gains[0], b.gains[1])
	return b
}

func (b *bench) driver() (claw.Driver, error) {
	d := b.unit.Driver()
	if d == nil {
		return nil, errNoBoard
	}
	return d, nil
}

// connect <port|-mock> [address] [baud]
func (b *bench) connect(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: connect <port|-mock> [address] [baud]")
	}
	p := claw.Params{Port: args[0], Address: defaultAddress, BaudRate: defaultBaudRate}
	if len(args) >= 2 {
		addr, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil || addr < 0x80 || addr > 0x87 {
			return errors.Errorf("address must be 0x80-0x87, got %q", args[1])
		}
		p.Address = uint8(addr)
	}
	if len(args) >= 3 {
		baud, err := strconv.Atoi(args[2])
		if err != nil || baud <= 0 {
			return errors.Errorf("invalid baud rate %q", args[2])
		}
		p.BaudRate = baud
	}

	if err := b.unit.Close(); err != nil {
		fmt.Fprintf(b.out, "closing previous board: %v\n", err)
	}
	var d claw.Driver
	if p.Port == "-mock" {
		d = claw.NewMockDriver()
	} else {
		var err error
		if d, err = b.open(p); err != nil {
			return err
		}
	}
	b.unit.Bind(d)
	fmt.Fprintf(b.out, "Connected to %s (address %#x, %d baud)\n", p.Port, p.Address, p.BaudRate)
	return nil
}

func (b *bench) version() error {
	d, err := b.driver()
	if err != nil {
		return err
	}
	banner, err := d.ReadVersion()
	if err != nil {
		return err
	}
	fmt.Fprintln(b.out, banner)
	if v, err := claw.FirmwareVersion(banner); err == nil {
		fmt.Fprintf(b.out, "firmware %s\n", v)
	}
	return nil
}

func (b *bench) status() error {
	st, _, err := b.unit.PollStatus()
	if err != nil {
		return err
	}
	fmt.Fprintln(b.out, st)
	return nil
}

func (b *bench) encoders() error {
	d, err := b.driver()
	if err != nil {
		return err
	}
	for _, ch := range []claw.Channel{claw.M1, claw.M2} {
		count, status, err := d.ReadEncoder(ch)
		if err != nil {
			return err
		}
		fmt.Fprintf(b.out, "%s: %d (status 0x%02x)\n", ch, count, status)
	}
	return nil
}

func (b *bench) reset() error {
	d, err := b.driver()
	if err != nil {
		return err
	}
	if err := d.ResetEncoders(); err != nil {
		return err
	}
	fmt.Fprintln(b.out, "Encoders reset")
	return nil
}

// drive <m1|m2> <0-255>
func (b *bench) drive(dir claw.Direction, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: fwd|back <m1|m2> <0-255>")
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	mag, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return errors.Errorf("magnitude must be 0-255, got %q", args[1])
	}
	d, err := b.driver()
	if err != nil {
		return err
	}
	return claw.Drive(d, ch, dir, uint8(mag))
}

func (b *bench) stop() error {
	return b.unit.Stop()
}

// gains <m1|m2> <kp> <qpps> <deadzone> <kick> [mirrored]
func (b *bench) setGains(args []string) error {
	if len(args) != 5 && len(args) != 6 {
		return errors.New("usage: gains <m1|m2> <kp> <qpps> <deadzone> <kick> [mirrored]")
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	var g steering.Gains
	if g.Kp, err = strconv.ParseFloat(args[1], 64); err != nil || g.Kp <= 0 {
		return errors.Errorf("kp must be > 0, got %q", args[1])
	}
	if g.QPPS, err = strconv.ParseFloat(args[2], 64); err != nil {
		return errors.Errorf("invalid qpps %q", args[2])
	}
	if g.Deadzone, err = strconv.ParseInt(args[3], 10, 64); err != nil || g.Deadzone < 0 {
		return errors.Errorf("deadzone must be >= 0, got %q", args[3])
	}
	if g.Kick, err = strconv.ParseInt(args[4], 10, 64); err != nil || g.Kick < 0 {
		return errors.Errorf("kick must be >= 0, got %q", args[4])
	}
	if len(args) == 6 {
		if g.Mirrored, err = strconv.ParseBool(args[5]); err != nil {
			return errors.Errorf("invalid mirrored flag %q", args[5])
		}
	}

	i := 0
	if ch == claw.M2 {
		i = 1
	}
	b.gains[i] = g

	// Gains are fixed per axis: rebuild the unit, keeping targets and driver.
	old := b.unit
	b.unit = steering.NewUnit(old.Name(), b.gains[0], b.gains[1])
	b.unit.M1().SetTarget(old.M1().Target())
	b.unit.M2().SetTarget(old.M2().Target())
	if d := old.Driver(); d != nil {
		b.unit.Bind(d)
	}
	fmt.Fprintf(b.out, "%s gains: %+v\n", ch, g)
	return nil
}

// target <m1|m2> <angle>
func (b *bench) setTarget(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: target <m1|m2> <angle>")
	}
	ch, err := parseChannel(args[0])
	if err != nil {
		return err
	}
	angle, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return errors.Errorf("invalid angle %q", args[1])
	}
	if ch == claw.M1 {
		b.unit.M1().SetTarget(angle)
	} else {
		b.unit.M2().SetTarget(angle)
	}
	return nil
}

// step [n] runs n control ticks and prints each axis step.
func (b *bench) step(args []string) error {
	n := 1
	if len(args) >= 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return errors.Errorf("tick count must be > 0, got %q", args[0])
		}
		n = v
	}
	for i := 0; i < n; i++ {
		if i > 0 && b.interval > 0 {
			time.Sleep(b.interval)
		}
		if err := b.unit.Update(); err != nil {
			if stopErr := b.unit.Stop(); stopErr != nil {
				fmt.Fprintf(b.out, "stop failed: %v\n", stopErr)
			}
			return err
		}
		for _, a := range b.unit.Snapshot().Axes {
			fmt.Fprintf(b.out, "%3d %-8s target=%-8g enc=%-7d tc=%-7d err=%-7d out=%-5d %s\n",
				i+1, a.Name, a.Target, a.Encoder, a.TargetCount, a.Error, a.Output, a.Command)
		}
	}
	return nil
}

func (b *bench) close() error {
	return b.unit.Close()
}

func parseChannel(s string) (claw.Channel, error) {
	switch strings.ToLower(s) {
	case "m1":
		return claw.M1, nil
	case "m2":
		return claw.M2, nil
	default:
		return 0, errors.Errorf("channel must be m1 or m2, got %q", s)
	}
}
