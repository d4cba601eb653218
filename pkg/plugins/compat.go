package plugins

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Compatible reports whether a plugin at version found satisfies a rule
// set's minimum requirement: same major version, and found not older
// than required.
func Compatible(found, required string) (bool, error) {
	fv, err := semver.NewVersion(found)
	if err != nil {
		return false, fmt.Errorf("plugin version %q: %w", found, err)
	}
	rv, err := semver.NewVersion(required)
	if err != nil {
		return false, fmt.Errorf("required version %q: %w", required, err)
	}
	if fv.Major() != rv.Major() {
		return false, nil
	}
	return !fv.LessThan(rv), nil
}
