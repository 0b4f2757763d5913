package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// AxisConfig holds the control constants of one motor.
type AxisConfig struct {
	Kp       float64 `yaml:"kp"`       // proportional gain (> 0)
	QPPS     float64 `yaml:"qpps"`     // encoder counts per target angle unit
	Deadzone *int64  `yaml:"deadzone"` // hold band half-width (counts); default 50
	Kick     *int64  `yaml:"kick"`     // minimum drive outside the deadzone; default 10
	Mirrored *bool   `yaml:"mirrored"` // motor mounted opposite: forward/backward swap; default true on M2 only
	Overflow int64   `yaml:"overflow"` // encoder overflow count; not used by the control law
}

// UnitConfig describes one motor-controller board and its two motors.
type UnitConfig struct {
	Name          string     `yaml:"name"`
	Port          string     `yaml:"port"`            // e.g. /dev/ttyACM0
	Address       int        `yaml:"address"`         // packet serial address 0x80-0x87
	BaudRate      int        `yaml:"baud_rate"`       // e.g. 9600
	ReadTimeoutMs int        `yaml:"read_timeout_ms"` // per-read serial timeout
	M1            AxisConfig `yaml:"m1"`
	M2            AxisConfig `yaml:"m2"`
}

// ConnectConfig tunes the startup retry loop.
type ConnectConfig struct {
	Attempts int    `yaml:"attempts"`
	DelayMs  int    `yaml:"delay_ms"`
	Firmware string `yaml:"firmware"` // semver constraint, e.g. ">= 4.1.0". Empty = no check.
}

// LoopConfig sets the control rate.
type LoopConfig struct {
	RateHz           float64 `yaml:"rate_hz"`
	StatusEveryTicks *int    `yaml:"status_every_ticks"` // 0 = no status polling
}

// InputConfig describes the directive input.
type InputConfig struct {
	Path       string `yaml:"path"`        // e.g. /rover/ard_directives
	FirstIndex *int   `yaml:"first_index"` // index of unit1.M1 in a directive
}

// PowerConfig is the optional motor power enable line.
type PowerConfig struct {
	EnablePin int  `yaml:"enable_pin"` // BCM pin. 0 = not used.
	ActiveLow bool `yaml:"active_low"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	Addr string `yaml:"addr"` // e.g. ":8080"
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	MockClaw   bool `yaml:"mock_claw"`   // use simulated motor controllers instead of serial ports
}

// Config aggregates all application configuration.
type Config struct {
	Units    []UnitConfig   `yaml:"units"`
	Connect  ConnectConfig  `yaml:"connect"`
	Loop     LoopConfig     `yaml:"loop"`
	Input    InputConfig    `yaml:"input"`
	Power    PowerConfig    `yaml:"power"`
	Web      WebConfig      `yaml:"web"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files inside a directory named configs.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Ext(abs) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("at least one unit is required")
	}
	for i := range c.Units {
		u := &c.Units[i]
		if u.Name == "" {
			u.Name = fmt.Sprintf("unit%d", i+1)
		}
		if u.Address == 0 {
			u.Address = 0x81
		}
		if u.BaudRate <= 0 {
			u.BaudRate = 9600
		}
		if u.ReadTimeoutMs <= 0 {
			u.ReadTimeoutMs = 100
		}
		u.M1.applyDefaults(false)
		u.M2.applyDefaults(true)
	}

	if c.Connect.Attempts <= 0 {
		c.Connect.Attempts = 20
	}
	if c.Connect.DelayMs <= 0 {
		c.Connect.DelayMs = 1000
	}
	if c.Loop.RateHz <= 0 {
		c.Loop.RateHz = 20
	}
	if c.Loop.StatusEveryTicks == nil {
		n := 20 // 1 Hz at the default rate
		c.Loop.StatusEveryTicks = &n
	}
	if c.Input.Path == "" {
		c.Input.Path = "/rover/ard_directives"
	}
	if c.Input.FirstIndex == nil {
		n := 6
		c.Input.FirstIndex = &n
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	return nil
}

// applyDefaults fills the unset constants of one axis. M2 is mounted
// opposite to M1, so it is mirrored unless the file says otherwise.
func (a *AxisConfig) applyDefaults(m2 bool) {
	if a.Kp == 0 {
		a.Kp = 0.25
	}
	if a.QPPS == 0 {
		a.QPPS = 5.34
	}
	if a.Deadzone == nil {
		n := int64(50)
		a.Deadzone = &n
	}
	if a.Kick == nil {
		n := int64(10)
		a.Kick = &n
	}
	if a.Mirrored == nil {
		a.Mirrored = &m2
	}
	if a.Overflow == 0 {
		a.Overflow = 1922
	}
}

// Gains returns the hold band, kick and mirroring, zero when unset.
func (a AxisConfig) Gains() (deadzone, kick int64, mirrored bool) {
	if a.Deadzone != nil {
		deadzone = *a.Deadzone
	}
	if a.Kick != nil {
		kick = *a.Kick
	}
	if a.Mirrored != nil {
		mirrored = *a.Mirrored
	}
	return deadzone, kick, mirrored
}

// Validate checks the configuration once defaults are filled in.
func (c *Config) Validate() error {
	names := make(map[string]bool)
	for _, u := range c.Units {
		if names[u.Name] {
			return fmt.Errorf("duplicate unit name %q", u.Name)
		}
		names[u.Name] = true
		if u.Port == "" && !c.Defaults.MockClaw {
			return fmt.Errorf("unit %s: port is required", u.Name)
		}
		if u.Address < 0x80 || u.Address > 0x87 {
			return fmt.Errorf("unit %s: address must be between 0x80 and 0x87, got %#x", u.Name, u.Address)
		}
		for axis, a := range map[string]AxisConfig{"m1": u.M1, "m2": u.M2} {
			if a.Kp <= 0 || math.IsNaN(a.Kp) || math.IsInf(a.Kp, 0) {
				return fmt.Errorf("unit %s: %s.kp must be > 0, got %v", u.Name, axis, a.Kp)
			}
			if a.QPPS == 0 || math.IsNaN(a.QPPS) || math.IsInf(a.QPPS, 0) {
				return fmt.Errorf("unit %s: %s.qpps must be finite and non-zero, got %v", u.Name, axis, a.QPPS)
			}
			if (a.Deadzone != nil && *a.Deadzone < 0) || (a.Kick != nil && *a.Kick < 0) {
				return fmt.Errorf("unit %s: %s deadzone and kick must be >= 0", u.Name, axis)
			}
		}
	}
	if c.Connect.Firmware != "" {
		if _, err := semver.NewConstraint(c.Connect.Firmware); err != nil {
			return fmt.Errorf("connect.firmware: %w", err)
		}
	}
	if c.Loop.RateHz > 1000 {
		return fmt.Errorf("loop.rate_hz must be <= 1000, got %.2f", c.Loop.RateHz)
	}
	if c.StatusEveryTicks() < 0 {
		return fmt.Errorf("loop.status_every_ticks must be >= 0")
	}
	if !strings.HasPrefix(c.Input.Path, "/") {
		return fmt.Errorf("input.path must start with /, got %q", c.Input.Path)
	}
	if c.FirstIndex() < 0 {
		return fmt.Errorf("input.first_index must be >= 0")
	}
	if c.Power.EnablePin < 0 {
		return fmt.Errorf("power.enable_pin must be >= 0")
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ReadTimeout returns the serial read timeout of a unit.
func (u UnitConfig) ReadTimeout() time.Duration {
	return time.Duration(u.ReadTimeoutMs) * time.Millisecond
}

// ConnectDelay returns the delay between two connection attempts.
func (c *Config) ConnectDelay() time.Duration {
	return time.Duration(c.Connect.DelayMs) * time.Millisecond
}

// TickInterval returns the control loop period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Loop.RateHz)
}

func (c *Config) StatusEveryTicks() int {
	if c.Loop.StatusEveryTicks == nil {
		return 0
	}
	return *c.Loop.StatusEveryTicks
}

func (c *Config) FirstIndex() int {
	if c.Input.FirstIndex == nil {
		return 6
	}
	return *c.Input.FirstIndex
}
