package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SteerGo/internal/hw/claw"
	"github.com/cjeanneret/SteerGo/internal/logic/connect"
	"github.com/cjeanneret/SteerGo/internal/logic/steering"
)

var testGains = steering.Gains{Kp: 0.25, QPPS: 5.34, Deadzone: 50, Kick: 10}

type recordingPower struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPower) Enable() error  { return p.record("on") }
func (p *recordingPower) Disable() error { return p.record("off") }

func (p *recordingPower) record(e string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPower) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// flakyDriver fails every encoder read after the first n.
type flakyDriver struct {
	*claw.MockDriver
	mu    sync.Mutex
	reads int
	n     int
}

func (f *flakyDriver) ReadEncoder(ch claw.Channel) (int32, uint8, error) {
	f.mu.Lock()
	f.reads++
	fail := f.reads > f.n
	f.mu.Unlock()
	if fail {
		return 0, 0, errors.New("serial read: input/output error")
	}
	return f.MockDriver.ReadEncoder(ch)
}

func openMock(d claw.Driver) connect.Opener {
	return func(context.Context) (claw.Driver, error) { return d, nil }
}

func newUnit(name string) *steering.Unit {
	m2 := testGains
	m2.Mirrored = true
	return steering.NewUnit(name, testGains, m2)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func assertStopped(t *testing.T, name string, d *claw.MockDriver) {
	t.Helper()
	for _, ch := range []claw.Channel{claw.M1, claw.M2} {
		last, ok := d.LastCall(ch)
		if !ok || last.Direction != claw.Forward || last.Magnitude != 0 {
			t.Errorf("%s %v: last command %v, want forward(0)", name, ch, last)
		}
	}
	if !d.Closed() {
		t.Errorf("%s: driver not closed", name)
	}
}

func TestState_String(t *testing.T) {
	if Running.String() != "running" || ShuttingDown.String() != "shutting_down" {
		t.Errorf("names: %s %s", Running, ShuttingDown)
	}
	if State(42).String() != "State(42)" {
		t.Errorf("unknown state = %s", State(42))
	}
}

func TestDriver_RunAndShutdown(t *testing.T) {
	u1, u2 := newUnit("unit1"), newUnit("unit2")
	d1, d2 := claw.NewMockDriver(), claw.NewMockDriver()
	pwr := &recordingPower{}
	drv := NewDriver(Config{Interval: time.Millisecond}, connect.NewConnector(1, 0), pwr,
		Board{Unit: u1, Open: openMock(d1)},
		Board{Unit: u2, Open: openMock(d2)},
	)

	dispatch := steering.NewDispatcher(steering.DefaultFirstIndex, u1, u2)
	if err := dispatch.Dispatch([]float64{0, 0, 0, 0, 0, 0, 100, 100, -100, -100}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- drv.Run(ctx) }()

	waitFor(t, "ticks", func() bool { return drv.Snapshot().Ticks >= 5 })
	if drv.State() != Running {
		t.Errorf("state = %s, want running", drv.State())
	}
	snap := drv.Snapshot()
	if len(snap.Units) != 2 || !snap.Units[0].Connected {
		t.Fatalf("snapshot = %+v", snap)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if drv.State() != Stopped {
		t.Errorf("state = %s, want stopped", drv.State())
	}

	// zeroed before the first tick
	for name, d := range map[string]*claw.MockDriver{"unit1": d1, "unit2": d2} {
		calls := d.Calls()
		if len(calls) < 4 {
			t.Fatalf("%s: %d calls", name, len(calls))
		}
		for _, c := range calls[:2] {
			if c.Direction != claw.Forward || c.Magnitude != 0 {
				t.Errorf("%s: zeroing call %v, want forward(0)", name, c)
			}
		}
		if d.Resets() != 1 {
			t.Errorf("%s: encoders reset %d times", name, d.Resets())
		}
		assertStopped(t, name, d)
	}

	// the loop actually drove toward the targets
	if c := d1.Calls()[2]; c.Channel != claw.M1 || c.Magnitude == 0 {
		t.Errorf("unit1 first drive = %v", c)
	}

	if ev := pwr.Events(); len(ev) != 2 || ev[0] != "on" || ev[1] != "off" {
		t.Errorf("power events = %v, want [on off]", ev)
	}
}

func TestDriver_ConnectFailureIsFatal(t *testing.T) {
	u1, u2 := newUnit("unit1"), newUnit("unit2")
	d1 := claw.NewMockDriver()
	pwr := &recordingPower{}
	opens := 0
	drv := NewDriver(Config{Interval: time.Millisecond}, connect.NewConnector(3, 0), pwr,
		Board{Unit: u1, Open: openMock(d1)},
		Board{Unit: u2, Open: func(context.Context) (claw.Driver, error) {
			opens++
			return nil, errors.New("open /dev/ttyACM1: no such file or directory")
		}},
	)

	err := drv.Run(context.Background())

	var ex *connect.ExhaustedError
	if !errors.As(err, &ex) || ex.Name != "unit2" {
		t.Fatalf("err = %v, want ExhaustedError for unit2", err)
	}
	if opens != 3 {
		t.Errorf("unit2 opened %d times, want 3", opens)
	}
	if drv.State() != Stopped || drv.Snapshot().Ticks != 0 {
		t.Errorf("state %s after %d ticks", drv.State(), drv.Snapshot().Ticks)
	}
	assertStopped(t, "unit1", d1)
	if ev := pwr.Events(); len(ev) != 1 || ev[0] != "off" {
		t.Errorf("power events = %v, want [off]", ev)
	}
	if drv.Snapshot().Error == "" {
		t.Error("snapshot does not carry the error")
	}
}

func TestDriver_TickFailureStopsEverything(t *testing.T) {
	u1, u2 := newUnit("unit1"), newUnit("unit2")
	flaky := &flakyDriver{MockDriver: claw.NewMockDriver(), n: 6}
	d2 := claw.NewMockDriver()
	drv := NewDriver(Config{Interval: time.Millisecond}, connect.NewConnector(1, 0), nil,
		Board{Unit: u1, Open: openMock(flaky)},
		Board{Unit: u2, Open: openMock(d2)},
	)
	u1.M1().SetTarget(100)
	u2.M2().SetTarget(-100)

	done := make(chan error, 1)
	go func() { done <- drv.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run returned nil after a tick failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop kept running after a tick failure")
	}

	assertStopped(t, "unit1", flaky.MockDriver)
	assertStopped(t, "unit2", d2)
	if drv.State() != Stopped {
		t.Errorf("state = %s", drv.State())
	}
}

func TestDriver_StatusPolling(t *testing.T) {
	u := newUnit("unit1")
	d := claw.NewMockDriver()
	d.SetStatus(0x0004)

	var mu sync.Mutex
	var got []claw.Status
	cfg := Config{
		Interval:    time.Millisecond,
		StatusEvery: 2,
		OnStatus: func(unit string, st claw.Status) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, st)
		},
	}
	drv := NewDriver(cfg, connect.NewConnector(1, 0), nil, Board{Unit: u, Open: openMock(d)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- drv.Run(ctx) }()

	waitFor(t, "status", func() bool {
		s := drv.Snapshot()
		return len(s.Units) == 1 && s.Units[0].Status != nil
	})
	waitFor(t, "more ticks", func() bool { return drv.Snapshot().Ticks >= 10 })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("OnStatus called %d times, want 1 (only on change)", len(got))
	}
	if got[0].Severity != claw.SeverityError {
		t.Errorf("severity = %s, want ERROR", got[0].Severity)
	}
}

func TestDriver_StatusReadFailureIsTickFailure(t *testing.T) {
	u := newUnit("unit1")
	d := &statusFailDriver{MockDriver: claw.NewMockDriver()}
	drv := NewDriver(Config{Interval: time.Millisecond, StatusEvery: 1}, connect.NewConnector(1, 0), nil,
		Board{Unit: u, Open: openMock(d)})

	err := drv.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	assertStopped(t, "unit1", d.MockDriver)
}

type statusFailDriver struct {
	*claw.MockDriver
}

func (statusFailDriver) ReadStatus() (uint16, error) {
	return 0, errors.New("claw: reply timed out")
}
