package fetch

import "github.com/zpmjs/zpm/internal/protocol"

// UnsupportedReferenceError is returned when a Locator's reference
// kind has no registered Fetcher.
type UnsupportedReferenceError struct {
	Kind protocol.ReferenceKind
}

func (e *UnsupportedReferenceError) Error() string {
	return "fetch: no fetcher registered for reference kind " + string(e.Kind)
}

// MissingParentError is returned by a reference kind that resolves
// relative to its parent's fetched context (Tarball, Folder, Patch)
// when no parent PackageData was supplied.
type MissingParentError struct {
	Locator protocol.Locator
}

func (e *MissingParentError) Error() string {
	return "fetch: " + e.Locator.String() + " needs its parent's fetched package data"
}

// BuiltinMissError reports a Builtin reference with no embedded bytes
// registered for its ident.
type BuiltinMissError struct {
	Locator protocol.Locator
}

func (e *BuiltinMissError) Error() string {
	return "fetch: no builtin resource embedded for " + e.Locator.String()
}

// WorkspaceMissError reports a "workspace:ident" reference naming a
// member the project's workspace table has no entry for.
type WorkspaceMissError struct {
	Locator protocol.Locator
}

func (e *WorkspaceMissError) Error() string {
	return "fetch: no workspace member registered for " + e.Locator.String()
}
