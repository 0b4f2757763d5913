package main

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SteerGo/internal/config"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
)

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- applyFlags ----------

func newTestConfig() *config.Config {
	return &config.Config{
		Units: []config.UnitConfig{
			{Name: "unit1", Port: "/dev/ttyACM0", Address: 0x81, BaudRate: 9600, ReadTimeoutMs: 100},
		},
		Web: config.WebConfig{Addr: ":8080"},
	}
}

func TestApplyFlags_NoFlags(t *testing.T) {
	cfg := newTestConfig()
	applyFlags(cfg, false, 0)
	if cfg.Defaults.MockGPIO || cfg.Defaults.MockClaw {
		t.Error("mock enabled without -mock")
	}
	if cfg.Web.Addr != ":8080" {
		t.Errorf("Web.Addr = %q, want :8080", cfg.Web.Addr)
	}
}

func TestApplyFlags_Mock(t *testing.T) {
	cfg := newTestConfig()
	applyFlags(cfg, true, 0)
	if !cfg.Defaults.MockGPIO || !cfg.Defaults.MockClaw {
		t.Errorf("mock flags = %v %v, want both true", cfg.Defaults.MockGPIO, cfg.Defaults.MockClaw)
	}
}

func TestApplyFlags_WebPort(t *testing.T) {
	cfg := newTestConfig()
	applyFlags(cfg, false, 8980)
	if cfg.Web.Addr != ":8980" {
		t.Errorf("Web.Addr = %q, want :8980", cfg.Web.Addr)
	}
}

// ---------- newOpener ----------

func TestNewOpener_MockReturnsFreshDrivers(t *testing.T) {
	open := newOpener(newTestConfig().Units[0], "", true)

	d1, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d2, err := open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if d1 == d2 {
		t.Error("mock opener should return a new driver per attempt")
	}
	if _, ok := d1.(*claw.MockDriver); !ok {
		t.Errorf("driver type = %T, want *claw.MockDriver", d1)
	}
}

func TestNewOpener_MissingPort(t *testing.T) {
	uc := newTestConfig().Units[0]
	uc.Port = "/dev/steergo-test-does-not-exist"
	open := newOpener(uc, "", false)

	d, err := open(context.Background())
	if err == nil {
		t.Fatal("expected error opening a missing port")
	}
	if d != nil {
		t.Errorf("driver = %v, want nil interface on error", d)
	}
}

// ---------- runServices ----------

// runnerFunc adapts a function to runner.
type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// untilCancelled blocks until ctx is done and returns ret.
func untilCancelled(ret error) runnerFunc {
	return func(ctx context.Context) error {
		<-ctx.Done()
		return ret
	}
}

func runWithTimeout(t *testing.T, ctx context.Context, control, server runner) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- runServices(ctx, control, server) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runServices did not return")
		return nil
	}
}

func TestRunServices_WebFailureStopsLoop(t *testing.T) {
	bindErr := errors.New("listen tcp :8080: bind: address already in use")
	loopStopped := false
	control := runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		loopStopped = true
		return nil
	})
	server := runnerFunc(func(context.Context) error { return bindErr })

	err := runWithTimeout(t, context.Background(), control, server)

	if !errors.Is(err, bindErr) {
		t.Errorf("err = %v, want the bind error", err)
	}
	if !loopStopped {
		t.Error("loop kept running without a web server")
	}
}

func TestRunServices_WebFailureDuringConnect(t *testing.T) {
	bindErr := errors.New("bind: address already in use")
	control := untilCancelled(context.Canceled)
	server := runnerFunc(func(context.Context) error { return bindErr })

	err := runWithTimeout(t, context.Background(), control, server)
	if !errors.Is(err, bindErr) {
		t.Errorf("err = %v, want the bind error", err)
	}
}

func TestRunServices_InterruptIsClean(t *testing.T) {
	for name, loopErr := range map[string]error{
		"running":    nil,
		"connecting": context.Canceled,
		"wrapped":    errors.Wrap(context.Canceled, "connect unit1"),
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
			if err := runWithTimeout(t, ctx, untilCancelled(loopErr), untilCancelled(nil)); err != nil {
				t.Errorf("err = %v, want nil on interrupt", err)
			}
		})
	}
}

func TestRunServices_LoopFailureStopsWeb(t *testing.T) {
	tickErr := errors.New("control tick: serial read: input/output error")
	webStopped := false
	server := runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		webStopped = true
		return nil
	})
	control := runnerFunc(func(context.Context) error { return tickErr })

	err := runWithTimeout(t, context.Background(), control, server)
	if !errors.Is(err, tickErr) {
		t.Errorf("err = %v, want the tick error", err)
	}
	if !webStopped {
		t.Error("web server not shut down after a loop failure")
	}
}
