package resolver

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
)

var dottedNumeric = regexp.MustCompile(`^\d+(\.\d+)+$`)

// GameVersionWindow picks the game version used to look up the root
// content. A target the content declares is used as-is; otherwise a plain
// release target widens to the lowest declared version of the same
// major.minor line. The target is returned when nothing matches.
func GameVersionWindow(target string, supported []string) string {
	if slices.Contains(supported, target) || !dottedNumeric.MatchString(target) {
		return target
	}

	tv, err := semver.NewVersion(target)
	if err != nil {
		return target
	}
	c, err := semver.NewConstraint(fmt.Sprintf("%d.%d.x", tv.Major(), tv.Minor()))
	if err != nil {
		return target
	}

	best := ""
	var bestVersion *semver.Version
	for _, s := range supported {
		if !dottedNumeric.MatchString(s) {
			continue
		}
		v, err := semver.NewVersion(s)
		if err != nil || !c.Check(v) {
			continue
		}
		if bestVersion == nil || v.LessThan(bestVersion) {
			best, bestVersion = s, v
		}
	}
	if best == "" {
		return target
	}
	return best
}
