package resolvers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/version"
)

// TagResolver implements Resolver for RangeRegistryTag and
// RangeAnonymousTag: look up the tag in the registry's dist-tags map
// (defaulting to "latest" semantics elsewhere in the pipeline; the tag
// text itself, e.g. "next", is whatever the range names) and resolve
// to the version it currently points at.
type TagResolver struct {
	Metadata *MetadataClient
}

func tagOf(rng protocol.Range) string {
	if rng.Tag != "" {
		return rng.Tag
	}
	return "latest"
}

func (r *TagResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return nil, err
	}
	target := targetIdent(d, rng)

	doc, err := r.Metadata.fetchDocument(ctx, target.String())
	if err != nil {
		return nil, err
	}

	tag := tagOf(rng)
	raw, ok := doc.DistTags[tag]
	if !ok {
		return nil, errors.Errorf("resolve: %s has no dist-tag %q", target, tag)
	}
	v, err := version.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: %s dist-tag %q", target, tag)
	}

	var ref protocol.Reference
	if rng.Ident == nil {
		ref = protocol.Reference{Kind: protocol.ReferenceShorthand, Version: &v}
	} else {
		ref = protocol.Reference{Kind: protocol.ReferenceRegistry, Ident: &target, Version: &v}
	}

	locator := protocol.Locator{Ident: target, Reference: ref.Serialize()}
	return nil, &resolve.NeedsFetchError{Locator: locator}
}

func (r *TagResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	v, err := version.Parse(man.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: %s has invalid version %q", locator, man.Version)
	}
	return resolutionFromManifest(locator, v, man, nil)
}
