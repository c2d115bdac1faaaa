package compiler

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Version is a solc release number. Pre-release and build suffixes
// ("0.8.20+commit.a1b79de6") are ignored.
type Version struct {
	Major, Minor, Patch int
}

// Compiler releases whose behaviour the decoder depends on.
var (
	// solc 0.5.9 started validating constructor arguments.
	FirstSolcVersionCreateParamsValidation = Version{0, 5, 9}
	// solc 0.6.0 introduced receive functions.
	FirstSolcVersionReceiveFunction = Version{0, 6, 0}
	// solc 0.6.3 emits unmapped reverts and inlines call checks.
	FirstSolcVersionWithUnmappedReverts = Version{0, 6, 3}
)

// ParseVersion parses "MAJOR.MINOR.PATCH", with an optional leading "v"
// and trailing "+..." or "-..." suffix.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: version %q", ErrInvalidArtifact, s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: version %q", ErrInvalidArtifact, s)
		}
		nums[i] = n
	}
	return Version{nums[0], nums[1], nums[2]}, nil
}

// MustParseVersion is ParseVersion for constants; it panics on bad input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.Major, o.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, o.Minor); c != 0 {
		return c
	}
	return cmp.Compare(v.Patch, o.Patch)
}

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool { return v.Compare(o) >= 0 }

// IsZero reports whether the version is unknown.
func (v Version) IsZero() bool { return v == Version{} }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
