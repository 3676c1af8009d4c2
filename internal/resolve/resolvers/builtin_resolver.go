package resolvers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/version"
)

// BuiltinResolver resolves a RangeBuiltin descriptor: the
// artifact's bytes are compiled into the binary (fetch.Env.Builtins),
// each one published under exactly one fixed version, so resolving is
// just checking that version against the requested semver range.
type BuiltinResolver struct {
	Versions map[ident.Ident]version.Version
}

func (r *BuiltinResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return nil, err
	}

	v, ok := r.Versions[d.Ident]
	if !ok {
		return nil, errors.Errorf("resolve: %s has no embedded builtin", d.Ident)
	}
	if !rng.SemverRange.Check(v) {
		return nil, errors.Errorf("resolve: embedded builtin %s@%s does not satisfy %s", d.Ident, v, rng.SemverRange)
	}

	ref := protocol.Reference{Kind: protocol.ReferenceBuiltin, Version: &v}
	locator := protocol.NewLocator(d.Ident, ref, nil)
	return nil, &resolve.NeedsFetchError{Locator: locator}
}

func (r *BuiltinResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}
	return resolutionFromManifest(locator, *ref.Version, man, nil)
}
