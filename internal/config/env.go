package config

import (
	"fmt"

	"github.com/caarlos0/env/v6"
)

// envOverrides are the settings that can be changed from the environment,
// e.g. in a systemd unit or a container. Unset variables keep the file value.
type envOverrides struct {
	DebugLevel      int      `env:"STEERGO_DEBUG_LEVEL"`
	MockGPIO        bool     `env:"STEERGO_MOCK_GPIO"`
	MockClaw        bool     `env:"STEERGO_MOCK_CLAW"`
	WebAddr         string   `env:"STEERGO_WEB_ADDR"`
	Ports           []string `env:"STEERGO_PORTS" envSeparator:","` // one per unit, in order
	ConnectAttempts int      `env:"STEERGO_CONNECT_ATTEMPTS"`
}

// ApplyEnv overrides cfg with STEERGO_* environment variables and
// validates the result.
func ApplyEnv(cfg *Config) error {
	o := envOverrides{
		DebugLevel:      cfg.Defaults.DebugLevel,
		MockGPIO:        cfg.Defaults.MockGPIO,
		MockClaw:        cfg.Defaults.MockClaw,
		WebAddr:         cfg.Web.Addr,
		ConnectAttempts: cfg.Connect.Attempts,
	}
	for _, u := range cfg.Units {
		o.Ports = append(o.Ports, u.Port)
	}

	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if len(o.Ports) > len(cfg.Units) {
		return fmt.Errorf("STEERGO_PORTS has %d ports for %d units", len(o.Ports), len(cfg.Units))
	}
	for i, p := range o.Ports {
		cfg.Units[i].Port = p
	}
	if o.ConnectAttempts <= 0 {
		return fmt.Errorf("STEERGO_CONNECT_ATTEMPTS must be > 0, got %d", o.ConnectAttempts)
	}

	cfg.Defaults.DebugLevel = o.DebugLevel
	cfg.Defaults.MockGPIO = o.MockGPIO
	cfg.Defaults.MockClaw = o.MockClaw
	cfg.Web.Addr = o.WebAddr
	cfg.Connect.Attempts = o.ConnectAttempts
	return cfg.Validate()
}
