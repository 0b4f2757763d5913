package steering

import "github.com/cjeanneret/SteerGo/internal/config"

// GainsFromConfig converts the configured constants of one axis.
func GainsFromConfig(a config.AxisConfig) Gains {
	deadzone, kick, mirrored := a.Gains()
	return Gains{
		Kp:       a.Kp,
		QPPS:     a.QPPS,
		Deadzone: deadzone,
		Kick:     kick,
		Mirrored: mirrored,
	}
}

// UnitsFromConfig creates one unconnected unit per configured board.
func UnitsFromConfig(cfg *config.Config) []*Unit {
	units := make([]*Unit, 0, len(cfg.Units))
	for _, u := range cfg.Units {
		units = append(units, NewUnit(u.Name, GainsFromConfig(u.M1), GainsFromConfig(u.M2)))
	}
	return units
}
