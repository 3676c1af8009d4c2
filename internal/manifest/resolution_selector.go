package manifest

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
)

// ResolutionSelector is the key half of a manifest's `resolutions`
// map: it names which descriptor(s) a replacement
// Range applies to. Four textual shapes are accepted, most specific
// first when more than one could match a given descriptor:
//
//	parent-ident/child-descriptor "webpack/lodash@^4.0.0"
//	descriptor "lodash@^4.0.0"
//	parent-ident/child-ident "webpack/lodash"
//	ident "lodash"
type ResolutionSelector struct {
	ParentIdent *ident.Ident
	ChildIdent  ident.Ident
	ChildRange  string        // "" means the selector matches the ident under any range
}

// ParseResolutionSelector decodes one key of the `resolutions` map.
func ParseResolutionSelector(raw string) (ResolutionSelector, error) {
	parent, rest, hasParent := splitParent(raw)

	childIdentText, childRange := splitIdentAndRange(rest)
	childIdent, err := ident.Parse(childIdentText)
	if err != nil {
		return ResolutionSelector{}, errors.Wrapf(err, "resolutions: invalid selector %q", raw)
	}

	sel := ResolutionSelector{ChildIdent: childIdent, ChildRange: childRange}
	if hasParent {
		parentIdent, err := ident.Parse(parent)
		if err != nil {
			return ResolutionSelector{}, errors.Wrapf(err, "resolutions: invalid parent ident in %q", raw)
		}
		sel.ParentIdent = &parentIdent
	}
	return sel, nil
}

// splitParent splits "parent/child..." into its parent ident text and
// the remainder, respecting that a scoped ident's own leading "@scope/"
// is not a parent separator.
func splitParent(raw string) (parent, rest string, ok bool) {
	body := raw
	scopePrefix := ""
	if strings.HasPrefix(body, "@") {
		if idx := strings.Index(body, "/"); idx >= 0 {
			scopePrefix = body[:idx+1]
			body        = body[idx+1:]
		}
	}

	idx := strings.Index(body, "/")
	if idx < 0 {
		return "", raw, false
	}
	return scopePrefix + body[:idx], body[idx+1:], true
}

// splitIdentAndRange splits "ident@range" into its two halves, or
// returns the whole string as the ident with an empty range when no
// "@range" suffix is present.
func splitIdentAndRange(raw string) (idnt, rng string) {
	body := raw
	scopePrefix := ""
	if strings.HasPrefix(body, "@") {
		if idx := strings.Index(body, "/"); idx >= 0 {
			scopePrefix = body[:idx+1]
			body        = body[idx+1:]
		}
	}
	if idx := strings.Index(body, "@"); idx >= 0 {
		return scopePrefix + body[:idx], body[idx+1:]
	}
	return scopePrefix + body, ""
}

// Matches reports whether sel applies to childIdent optionally
// consumed under parentIdent (the empty parentIdent value means "no
// parent in scope", e.g. a top-level workspace dependency).
func (sel ResolutionSelector) Matches(parentIdent *ident.Ident, childIdent ident.Ident, childRange string) bool {
	if sel.ChildIdent != childIdent {
		return false
	}
	if sel.ChildRange != "" && sel.ChildRange != childRange {
		return false
	}
	if sel.ParentIdent == nil {
		return true
	}
	return parentIdent != nil && *sel.ParentIdent == *parentIdent
}
