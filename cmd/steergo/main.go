package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cjeanneret/SteerGo/internal/config"
	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
	"github.com/cjeanneret/SteerGo/internal/hw/gpio"
	"github.com/cjeanneret/SteerGo/internal/hw/power"
	"github.com/cjeanneret/SteerGo/internal/logic/connect"
	"github.com/cjeanneret/SteerGo/internal/logic/loop"
	"github.com/cjeanneret/SteerGo/internal/logic/steering"
	"github.com/cjeanneret/SteerGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "override the web server port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "simulate GPIO and motor controllers (no hardware needed)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("environment override failed: %v", err)
	}
	applyFlags(cfg, *mock, webPort.port())

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Value("Mock controllers", cfg.Defaults.MockClaw)

	// Initialize GPIO driver and motor power line
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()
	pwr, err := power.NewSwitch(gpioDriver, power.Config{
		EnablePin: cfg.Power.EnablePin,
		ActiveLow: cfg.Power.ActiveLow,
	})
	if err != nil {
		log.Fatalf("init motor power failed: %v", err)
	}
	debug.PrintStruct("Power config", cfg.Power)

	// Build units and their controller boards
	debug.Step(2, "Building steering units")
	units := steering.UnitsFromConfig(cfg)
	boards := make([]loop.Board, len(units))
	for i, u := range units {
		uc := cfg.Units[i]
		debug.Verbose("Unit %s: port %s, address %#x, %d baud", uc.Name, uc.Port, uc.Address, uc.BaudRate)
		for _, a := range u.Axes() {
			debug.PrintStruct(a.Name()+" gains", a.Gains())
		}
		boards[i] = loop.Board{Unit: u, Open: newOpener(uc, cfg.Connect.Firmware, cfg.Defaults.MockClaw)}
	}
	dispatcher := steering.NewDispatcher(cfg.FirstIndex(), units...)
	debug.Value("Directive min length", dispatcher.MinLen())

	// Web server: directive input, telemetry, log stream
	debug.Step(3, "Starting web server")
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	drv := loop.NewDriver(loop.Config{
		Interval:    cfg.TickInterval(),
		StatusEvery: cfg.StatusEveryTicks(),
		OnStatus:    broadcaster.BroadcastStatus,
	}, connect.NewConnector(cfg.Connect.Attempts, cfg.ConnectDelay()), pwr, boards...)

	srv := web.NewServer(cfg.Web.Addr, cfg.Input.Path, broadcaster, dispatcher, drv)

	// Control loop
	debug.Step(4, "Starting steering loop")
	if err := runServices(ctx, drv, srv); err != nil {
		log.Fatalf("steergo: %v", err)
	}
	debug.Section("Stopped")
}

// runner is a long-running service stopped by cancelling its context.
type runner interface {
	Run(ctx context.Context) error
}

// runServices runs the web server alongside the steering loop. The server
// is the only directive input, so if it fails the loop is shut down too.
// A stop requested through ctx, even during connection, is not an error.
func runServices(ctx context.Context, control, server runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webErr := make(chan error, 1)
	go func() {
		err := server.Run(ctx)
		if err != nil {
			debug.Error(errors.Wrap(err, "web server"))
			cancel()
		}
		webErr <- err
	}()

	loopErr := control.Run(ctx)
	cancel()
	srvErr := <-webErr

	if errors.Is(loopErr, context.Canceled) {
		loopErr = nil
	}
	return multierr.Combine(
		errors.Wrap(loopErr, "steering loop"),
		errors.Wrap(srvErr, "web server"),
	)
}

// applyFlags applies CLI flags over the file and environment settings.
// port 0 keeps the configured address.
func applyFlags(cfg *config.Config, mock bool, port int) {
	if mock {
		cfg.Defaults.MockGPIO = true
		cfg.Defaults.MockClaw = true
	}
	if port > 0 {
		cfg.Web.Addr = fmt.Sprintf(":%d", port)
	}
}

// newOpener returns how the connector opens one unit's board.
func newOpener(uc config.UnitConfig, firmware string, mock bool) connect.Opener {
	if mock {
		return func(context.Context) (claw.Driver, error) {
			return claw.NewMockDriver(), nil
		}
	}
	params := claw.Params{
		Address:            uint8(uc.Address),
		Port:               uc.Port,
		BaudRate:           uc.BaudRate,
		ReadTimeout:        uc.ReadTimeout(),
		FirmwareConstraint: firmware,
	}
	return func(context.Context) (claw.Driver, error) {
		rc, err := claw.Open(params)
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
}

// webPortFlag implements flag.Value for -web: 0 = use config, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
