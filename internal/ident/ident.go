// Package ident models a package identity: an optional scope plus a name.
package ident

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// nameRegexp matches the bare name half of an ident, scope stripped.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Ident is a package name, optionally scoped (`@scope/name`).
//
// Two Idents with the same (Scope, Name) compare equal; String is the
// single canonical textual form.
type Ident struct {
	Scope string
	Name  string
}

// Parse splits a textual ident into its scope and name.
//
// Accepts `name` or `@scope/name`. Rejects anything with more than one
// `/`, since that's either a scoped ident with a typo or a subpath that
// doesn't belong in an Ident at all.
func Parse(raw string) (Ident, error) {
	if raw == "" {
		return Ident{}, errors.New("ident: empty string")
	}

	if strings.HasPrefix(raw, "@") {
		rest := raw[1:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return Ident{}, errors.Errorf("ident: scoped ident %q missing '/name'", raw)
		}
		scope, name := rest[:slash], rest[slash+1:]
		if strings.Contains(name, "/") {
			return Ident{}, errors.Errorf("ident: %q has more than one '/'", raw)
		}
		if !nameRegexp.MatchString(scope) || !nameRegexp.MatchString(name) {
			return Ident{}, errors.Errorf("ident: %q is not a valid scoped ident", raw)
		}
		return Ident{Scope: scope, Name: name}, nil
	}

	if strings.Contains(raw, "/") {
		return Ident{}, errors.Errorf("ident: unscoped ident %q cannot contain '/'", raw)
	}
	if !nameRegexp.MatchString(raw) {
		return Ident{}, errors.Errorf("ident: %q is not a valid ident", raw)
	}
	return Ident{Name: raw}, nil
}

// MustParse is Parse, panicking on error. Reserved for literals known
// to be valid at compile time (tests, constants).
func MustParse(raw string) Ident {
	id, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the canonical textual form.
func (i Ident) String() string {
	if i.Scope == "" {
		return i.Name
	}
	return fmt.Sprintf("@%s/%s", i.Scope, i.Name)
}

// Less provides the total order requires: lexicographic by
// scope then name, unscoped idents sorting before any scoped one
// sharing the same name (empty scope < any non-empty scope).
func (i Ident) Less(other Ident) bool {
	if i.Scope != other.Scope {
		return i.Scope < other.Scope
	}
	return i.Name < other.Name
}

// Compare returns -1, 0, or 1 the way sort.Interface-adjacent helpers want it.
func (i Ident) Compare(other Ident) int {
	switch {
	case i.Less(other):
		return -1
	case other.Less(i):
		return 1
	default:
		return 0
	}
}

// ByIdent sorts a slice of Idents in the canonical lockfile order.
type ByIdent []Ident

func (s ByIdent) Len() int { return len(s) }
func (s ByIdent) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByIdent) Less(i, j int) bool { return s[i].Less(s[j]) }
