package claw

import (
	"regexp"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

var versionPattern = regexp.MustCompile(`v(\d+\.\d+\.\d+)`)

// FirmwareVersion extracts the semantic version from a banner such as
// "USB Roboclaw 2x7a v4.1.34".
func FirmwareVersion(banner string) (*semver.Version, error) {
	m := versionPattern.FindStringSubmatch(banner)
	if m == nil {
		return nil, errors.Wrapf(ErrUnsupportedFirmware, "no version in banner %q", banner)
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedFirmware, "banner %q: %v", banner, err)
	}
	return v, nil
}

// CheckFirmware verifies that the banner's version satisfies constraint.
func CheckFirmware(banner, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return errors.Wrapf(err, "firmware constraint %q", constraint)
	}
	v, err := FirmwareVersion(banner)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return errors.Wrapf(ErrUnsupportedFirmware, "version %s does not satisfy %q", v, constraint)
	}
	return nil
}
