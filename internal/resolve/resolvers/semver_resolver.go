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

// SemverResolver implements Resolver for RangeRegistrySemver and
// RangeAnonymousSemver: list the ident's published versions from the
// registry, pick the highest one the range accepts, and ask the
// engine to fetch it (NeedsFetchError) so ResolveFetched can build the
// full Resolution from its manifest.
type SemverResolver struct {
	Metadata *MetadataClient
}

func targetIdent(d protocol.Descriptor, rng protocol.Range) ident.Ident {
	if rng.Ident != nil {
		return *rng.Ident
	}
	return d.Ident
}

func (r *SemverResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return nil, err
	}
	semRange, ok := rng.ToSemverRange()
	if !ok {
		return nil, errors.Errorf("resolve: %s has no semver range to check", d)
	}
	target := targetIdent(d, rng)

	doc, err := r.Metadata.fetchDocument(ctx, target.String())
	if err != nil {
		return nil, err
	}

	best, ok := highestSatisfying(doc, semRange)
	if !ok {
		return nil, errors.Errorf("resolve: no published version of %s satisfies %s", target, semRange)
	}

	var ref protocol.Reference
	if rng.Ident == nil {
		ref = protocol.Reference{Kind: protocol.ReferenceShorthand, Version: &best}
	} else {
		ref = protocol.Reference{Kind: protocol.ReferenceRegistry, Ident: &target, Version: &best}
	}

	locator := protocol.Locator{Ident: target, Reference: ref.Serialize()}
	return nil, &resolve.NeedsFetchError{Locator: locator}
}

func (r *SemverResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	v, err := version.Parse(man.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: %s has invalid version %q", locator, man.Version)
	}
	return resolutionFromManifest(locator, v, man, nil)
}

func highestSatisfying(doc *packageDocument, r version.Range) (version.Version, bool) {
	var best version.Version
	found := false
	for raw := range doc.Versions {
		v, err := version.Parse(raw)
		if err != nil {
			continue
		}
		if !r.Check(v) {
			continue
		}
		if !found || best.Less(v) {
			best  = v
			found = true
		}
	}
	return best, found
}
