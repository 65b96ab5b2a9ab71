// Package semver parses and orders the vMAJOR.MINOR.PATCH tags used by server releases.
package semver

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed release tag.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses a tag of the exact form v<major>.<minor>.<patch>. Any other shape
// reports ok=false; a partially parsed value is never returned.
func Parse(tag string) (Version, bool) {
	rest, found := strings.CutPrefix(tag, "v")
	if !found {
		return Version{}, false
	}

	parts := strings.Split(rest, ".")
	if len(parts) != 3 {
		return Version{}, false
	}

	var nums [3]int
	for i, part := range parts {
		n, ok := parseComponent(part)
		if !ok {
			return Version{}, false
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, true
}

func parseComponent(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// overflow
		return 0, false
	}
	return n, true
}

// Compare returns a positive number when a is newer than b, a negative number
// when b is newer, and zero when they are equal.
func Compare(a, b Version) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

// IsNewer reports whether current is strictly newer than other.
func IsNewer(current, other Version) bool {
	return Compare(current, other) > 0
}

// String formats the version back into tag form.
func (v Version) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
