// Package version models a resolved semantic version and its
// ordering rules. Range *arithmetic* is delegated to
// github.com/Masterminds/semver; this package only owns the (major,
// minor, patch, rc) value type and its own comparison, since that
// library's constraint checker doesn't expose the exact
// prerelease-ordering rules we need to hand back out (e.g.
// "1.0.0 > 1.0.0-rc.1").
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Prerelease is one dot-separated component of a prerelease tag: either
// an unsigned integer or an alphanumeric/hyphen string.
type Prerelease struct {
	raw    string
	isNum  bool
	numVal uint64
}

func parsePrerelease(raw string) Prerelease {
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil && raw != "" {
		return Prerelease{raw: raw, isNum: true, numVal: n}
	}
	return Prerelease{raw: raw}
}

// Compare orders two prerelease components: integers compare
// numerically, strings compare lexicographically, and an integer
// component is always less than a string component in the same
// position.
func (p Prerelease) Compare(other Prerelease) int {
	if p.isNum && other.isNum {
		switch {
		case p.numVal < other.numVal:
			return -1
		case p.numVal > other.numVal:
			return 1
		default:
			return 0
		}
	}
	if p.isNum != other.isNum {
		if p.isNum {
			return -1
		}
		return 1
	}
	return strings.Compare(p.raw, other.raw)
}

func (p Prerelease) String() string { return p.raw }

// Version is a resolved (major, minor, patch, rc?) value.
type Version struct {
	Major, Minor, Patch uint64
	RC []Prerelease
}

var versionPattern = `^(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?$`

// Parse decodes a canonical "major.minor.patch[-rc]" string.
func Parse(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	core := raw
	var rcPart string
	hasRC := false
	if idx := strings.IndexByte(raw, '-'); idx >= 0 {
		// only treat as prerelease once the dotted numeric core is consumed;
		// a leading '-' can't appear in a valid core so this is safe.
		core   = raw[:idx]
		rcPart = raw[idx+1:]
		hasRC  = true
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version{}, errors.Errorf("version: %q is not major.minor.patch", raw)
	}

	nums := make([]uint64, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return Version{}, errors.Wrapf(err, "version: invalid numeric component %q", p)
		}
		nums[i] = n
	}

	v := Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}
	if hasRC {
		if rcPart == "" {
			return Version{}, errors.Errorf("version: %q has empty prerelease", raw)
		}
		for _, comp := range strings.Split(rcPart, ".") {
			v.RC = append(v.RC, parsePrerelease(comp))
		}
	}
	return v, nil
}

// String renders the canonical form.
func (v Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if len(v.RC) == 0 {
		return base
	}
	comps := make([]string, len(v.RC))
	for i, c := range v.RC {
		comps[i] = c.String()
	}
	return base + "-" + strings.Join(comps, ".")
}

// Compare implements the total order:
// - major/minor/patch compare numerically
// - a version with no prerelease is greater than the same version
// with one
// - prereleases compare component-wise; shorter < longer when all
// shared positions are equal
func (v Version) Compare(other Version) int {
	if c := cmpUint(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmpUint(v.Minor, other.Minor); c != 0 {
		return c
	}
	if c := cmpUint(v.Patch, other.Patch); c != 0 {
		return c
	}

	switch {
	case len(v.RC) == 0 && len(other.RC) == 0:
		return 0
	case len(v.RC) == 0:
		return 1
	case len(other.RC) == 0:
		return -1
	}

	for i := 0; i < len(v.RC) && i < len(other.RC); i++ {
		if c := v.RC[i].Compare(other.RC[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(v.RC), len(other.RC))
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports value equality, ignoring textual formatting differences.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// HasPrerelease reports whether v carries an rc component.
func (v Version) HasPrerelease() bool { return len(v.RC) > 0 }

// NextMajor/NextMinor/NextPatch implement the bump operations,
// specified here directly on our own Version type since they're pure
// arithmetic with no range involved.
func (v Version) NextMajor() Version { return Version{Major: v.Major + 1} }
func (v Version) NextMinor() Version { return Version{Major: v.Major, Minor: v.Minor + 1} }
func (v Version) NextPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}
