package protocol

import (
	"regexp"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
)

// Descriptor names an unresolved dependency: an ident plus the range
// that constrains which artifact can satisfy it. Range
// and Parent are stored as their own canonical text rather than as
// parsed structs so Descriptor stays a comparable value usable as a
// map key; call ParsedRange to get the structured form back.
type Descriptor struct {
	Ident  ident.Ident
	Range  string
	Parent string       // canonical Locator text of the enclosing workspace/package; "" if unbound
}

var identAtRangeRe = regexp.MustCompile(`^(@?[^@]+(?:/[^@]+)?)@(.+)$`)

// ParseDescriptor decodes the "ident@range" textual form, along with
// any trailing ::parent= binding produced by String.
func ParseDescriptor(raw string) (Descriptor, error) {
	body, parent := splitParent(raw)
	m := identAtRangeRe.FindStringSubmatch(body)
	if m == nil {
		return Descriptor{}, errors.Errorf("descriptor: %q is not ident@range", raw)
	}
	id, err := ident.Parse(m[1])
	if err != nil {
		return Descriptor{}, errors.Wrap(err, "descriptor: invalid ident")
	}
	if _, err := ParseRange(m[2]); err != nil {
		return Descriptor{}, errors.Wrap(err, "descriptor: invalid range")
	}
	return Descriptor{Ident: id, Range: m[2], Parent: parent}, nil
}

// NewDescriptor builds a Descriptor from a parsed Range, optionally
// bound to an owning parent locator. Only protocols that bind to a
// specific installation location carry a parent; every other protocol leaves it blank
// so two descriptors for the same ident@range compare equal wherever
// they appear.
func NewDescriptor(id ident.Ident, r Range, parent *Locator) Descriptor {
	d := Descriptor{Ident: id, Range: r.Serialize()}
	if parent != nil && bindsToParent(r.Kind) {
		d.Parent = parent.String()
	}
	return d
}

func bindsToParent(k RangeKind) bool {
	switch k {
	case RangeLink, RangePortal, RangeTarball, RangeFolder, RangePatch:
		return true
	default:
		return false
	}
}

// String renders the "ident@range" textual form, folding in the
// parent binding (if any) so two descriptors that share an ident and
// range but bind to different parents serialize to distinct text and
// distinct lockfile keys.
func (d Descriptor) String() string {
	s := d.Ident.String() + "@" + d.Range
	if d.Parent != "" {
		s += parentSep + d.Parent
	}
	return s
}

// ParsedRange decodes the descriptor's range text back into a Range value.
func (d Descriptor) ParsedRange() (Range, error) {
	return ParseRange(d.Range)
}

// IsBound reports whether this descriptor is pinned to a particular
// parent locator.
func (d Descriptor) IsBound() bool { return d.Parent != "" }
