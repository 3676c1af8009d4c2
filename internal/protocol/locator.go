package protocol

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
)

// parentSep breaks the serialization cycle between a bound locator and
// its enclosing workspace: String appends it followed by the parent's
// own text, and ParseLocator splits on its first occurrence, leaving
// any further ::parent= chain inside the parent's own text untouched.
const parentSep = "::parent="

// Locator names a concrete, installable artifact: an ident plus the
// reference that pins exactly which build of it. As with
// Descriptor, Reference and Parent are kept as canonical text so
// Locator stays comparable and safe to use as a map key.
type Locator struct {
	Ident     ident.Ident
	Reference string
	Parent    string       // canonical Locator text of the enclosing workspace; "" for the root or top-level locators
}

var identAtReferenceRe = regexp.MustCompile(`^(@?[^@]+(?:/[^@]+)?)@(.+)$`)

// ParseLocator decodes the "ident@reference" textual form, along with
// any trailing ::parent= binding produced by String.
func ParseLocator(raw string) (Locator, error) {
	body, parent := splitParent(raw)
	m := identAtReferenceRe.FindStringSubmatch(body)
	if m == nil {
		return Locator{}, errors.Errorf("locator: %q is not ident@reference", raw)
	}
	id, err := ident.Parse(m[1])
	if err != nil {
		return Locator{}, errors.Wrap(err, "locator: invalid ident")
	}
	if _, err := ParseReference(m[2]); err != nil {
		return Locator{}, errors.Wrap(err, "locator: invalid reference")
	}
	return Locator{Ident: id, Reference: m[2], Parent: parent}, nil
}

// splitParent separates a serialized locator/descriptor's body from
// its trailing ::parent= binding, if any.
func splitParent(raw string) (body, parent string) {
	if i := strings.Index(raw, parentSep); i >= 0 {
		return raw[:i], raw[i+len(parentSep):]
	}
	return raw, ""
}

// NewLocator builds a Locator from a parsed Reference, binding it to
// a parent workspace locator for the protocols that need one (the
// same set as Descriptor's: link/portal/tarball/folder/patch; see
// bindsToParent).
func NewLocator(id ident.Ident, r Reference, parent *Locator) Locator {
	l := Locator{Ident: id, Reference: r.Serialize()}
	if parent != nil && referenceBindsToParent(r.Kind) {
		l.Parent = parent.String()
	}
	return l
}

func referenceBindsToParent(k ReferenceKind) bool {
	switch k {
	case ReferenceLink, ReferencePortal, ReferenceTarball, ReferenceFolder, ReferencePatch:
		return true
	default:
		return false
	}
}

// String renders the "ident@reference" textual form, folding in the
// parent binding (if any) so two locators that share an ident and
// reference but bind to different parents serialize to distinct text.
func (l Locator) String() string {
	s := l.Ident.String() + "@" + l.Reference
	if l.Parent != "" {
		s += parentSep + l.Parent
	}
	return s
}

// ParsedReference decodes the locator's reference text back into a
// Reference value.
func (l Locator) ParsedReference() (Reference, error) {
	return ParseReference(l.Reference)
}

// IsVirtual reports whether this locator names a peer-dependency
// virtualization of some other, physical locator.
func (l Locator) IsVirtual() bool {
	ref, err := l.ParsedReference()
	return err == nil && ref.Kind == ReferenceVirtual
}

// PhysicalLocator strips any Virtual layer, returning the locator that
// names the actual installed artifact on disk. Two virtual locators
// that unwrap to the same physical locator describe the same files
// linked at two different places in the dependency graph.
func (l Locator) PhysicalLocator() (Locator, error) {
	ref, err := l.ParsedReference()
	if err != nil {
		return Locator{}, err
	}
	phys := ref.PhysicalReference()
	return Locator{Ident: l.Ident, Reference: phys.Serialize()}, nil
}
