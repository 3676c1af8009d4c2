package version

import (
	"fmt"
	"strings"

	mmsemver "github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// Range wraps github.com/Masterminds/semver's Constraints. We never
// reimplement range arithmetic; we only adapt its API to the shape the
// resolution engine wants (`Check`, `CheckIgnoreRC`, `Min`).
type Range struct {
	raw        string
	constraint mmsemver.Constraints
}

// ParseRange parses a semver range expression (`^1.2.3`, `~1.2.3`,
// `>=1.2.3 <1.10.3`, `1.2.3 || 1.2.10`, ...).
func ParseRange(raw string) (Range, error) {
	c, err := mmsemver.NewConstraint(raw)
	if err != nil {
		return Range{}, errors.Wrapf(err, "version: invalid range %q", raw)
	}
	return Range{raw: raw, constraint: *c}, nil
}

func (r Range) String() string { return r.raw }

func toMM(v Version) (*mmsemver.Version, error) {
	return mmsemver.NewVersion(v.String())
}

// Check reports whether v satisfies the range.
func (r Range) Check(v Version) bool {
	mv, err := toMM(v)
	if err != nil {
		return false
	}
	return r.constraint.Check(mv)
}

// CheckIgnoreRC checks v against the range as though it carried no
// prerelease tag. This lets a range
// like `^1.2.3` match `1.3.0-rc` when the caller has already decided
// prerelease gating doesn't apply (e.g. a `workspace:*` consumer).
func (r Range) CheckIgnoreRC(v Version) bool {
	stripped := Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
	return r.Check(stripped)
}

// Min returns the lowest version this range could resolve to, when one
// can be derived syntactically (e.g. `^1.2.3` -> `1.2.3`). Ranges built
// from OR-alternatives or pure comparator lists have no single
// syntactic minimum and return ok=false.
func (r Range) Min() (Version, bool) {
	if strings.Contains(r.raw, "||") || strings.ContainsAny(r.raw, "<>") {
		return Version{}, false
	}
	// Masterminds/semver doesn't expose the parsed comparator set, so we
	// probe candidate versions derived from the raw text: most npm range
	// syntax anchors on a literal version immediately following the
	// range operator.
	var major, minor, patch uint64
	var rc string
	n, _ := fmt.Sscanf(firstVersionLiteral(r.raw), "%d.%d.%d-%s", &major, &minor, &patch, &rc)
	if n < 3 {
		n, _ = fmt.Sscanf(firstVersionLiteral(r.raw), "%d.%d.%d", &major, &minor, &patch)
		if n < 3 {
			return Version{}, false
		}
	}
	v := Version{Major: major, Minor: minor, Patch: patch}
	if rc != "" {
		for _, comp := range splitDot(rc) {
			v.RC = append(v.RC, parsePrerelease(comp))
		}
	}
	return v, true
}

func splitDot(s string) []string {
	out := []string{}
	cur := ""
	for _, r := range s {
		if r == '.' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}

// firstVersionLiteral strips a leading range operator (^, ~, >=, >, <=,
// <, =) and any surrounding whitespace to expose the literal version
// text that anchors the range.
func firstVersionLiteral(raw string) string {
	i := 0
	for i < len(raw) && (raw[i] == '^' || raw[i] == '~' || raw[i] == '>' || raw[i] == '<' || raw[i] == '=' || raw[i] == ' ') {
		i++
	}
	end := i
	for end < len(raw) && raw[end] != ' ' && raw[end] != '|' {
		end++
	}
	return raw[i:end]
}

// ToRange builds a Range anchored at v under the named kind: "caret"
// (^v, also the default), "tilde" (~v) or "exact" (v only).
func ToRange(v Version, kind string) (Range, error) {
	switch kind {
	case "exact":
		return ParseRange(v.String())
	case "tilde":
		return ParseRange("~" + v.String())
	case "caret", "":
		return ParseRange("^" + v.String())
	default:
		return Range{}, errors.Errorf("version: unknown range kind %q", kind)
	}
}
