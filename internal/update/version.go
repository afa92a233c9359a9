package update

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Comparator decides whether remote is newer than local.
type Comparator interface {
	IsNewer(local, remote string) (bool, error)
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(local, remote string) (bool, error)

// IsNewer implements Comparator.
func (f ComparatorFunc) IsNewer(local, remote string) (bool, error) {
	return f(local, remote)
}

// Comparator names accepted by ComparatorByName.
const (
	CompareDigits = "digits"
	CompareSemver = "semver"
)

// DigitComparator removes the dots from both versions and compares the
// resulting integers. Release tooling that writes the manifests uses the same
// rule, so "1.10.0" (1100) sorts after "1.9.9" (199) but "1.10" (110) does not
// sort after "1.9.0" (190).
var DigitComparator Comparator = ComparatorFunc(func(local, remote string) (bool, error) {
	r, err := DigitVersion(remote)
	if err != nil {
		return false, fmt.Errorf("remote version: %w", err)
	}
	l, err := DigitVersion(local)
	if err != nil {
		return false, fmt.Errorf("local version: %w", err)
	}
	return r > l, nil
})

// SemverComparator compares with semantic version precedence.
var SemverComparator Comparator = ComparatorFunc(func(local, remote string) (bool, error) {
	l, r := ensureVPrefix(local), ensureVPrefix(remote)
	if !semver.IsValid(r) {
		return false, fmt.Errorf("remote version %q is not a semantic version", remote)
	}
	if !semver.IsValid(l) {
		return false, fmt.Errorf("local version %q is not a semantic version", local)
	}
	return semver.Compare(l, r) < 0, nil
})

// ComparatorByName returns the comparator for a config value. Empty selects digits.
func ComparatorByName(name string) (Comparator, error) {
	switch name {
	case "", CompareDigits:
		return DigitComparator, nil
	case CompareSemver:
		return SemverComparator, nil
	default:
		return nil, fmt.Errorf("unknown version comparator %q", name)
	}
}

// DigitVersion turns "1.2.3" into 123. Like a leading-integer parse, trailing
// non-digit characters after the dots are removed are ignored ("1.3.0-beta" is 130).
// Versions with more digits than an int64 holds compare as math.MaxInt64.
func DigitVersion(version string) (int64, error) {
	joined := strings.ReplaceAll(strings.TrimSpace(version), ".", "")
	end := 0
	for end < len(joined) && joined[end] >= '0' && joined[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("version %q has no leading digits", version)
	}
	n, err := strconv.ParseInt(joined[:end], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		// Too many digits; ParseInt has already clamped n to math.MaxInt64.
		return n, nil
	}
	if err != nil {
		return 0, fmt.Errorf("version %q: %w", version, err)
	}
	return n, nil
}

// ensureVPrefix ensures the version string has a "v" prefix for semver comparison.
func ensureVPrefix(version string) string {
	if len(version) > 0 && version[0] != 'v' {
		return "v" + version
	}
	return version
}

// IsReleaseVersion reports whether version looks like a release build rather
// than a development build such as "dev" or "development".
func IsReleaseVersion(version string) bool {
	return semver.IsValid(ensureVPrefix(version))
}
