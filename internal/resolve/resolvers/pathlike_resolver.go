package resolvers

import (
	"context"

	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/version"
)

// PathlikeResolver implements Resolver for every RangeKind whose
// locator is already fully determined by the range's own text: Link,
// Portal, Tarball, Folder, Url and Git all name a concrete artifact
// without needing a registry lookup, so Resolve only has to bind the
// locator to d's parent (when the kind requires one) and ask the
// engine to fetch its manifest. Git's treeish is left unresolved here;
// GitFetcher pins it to a commit sha during the fetch itself.
type PathlikeResolver struct{}

func (PathlikeResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return nil, err
	}

	var ref protocol.Reference
	switch rng.Kind {
	case protocol.RangeLink:
		ref = protocol.Reference{Kind: protocol.ReferenceLink, Path: rng.Path}
	case protocol.RangePortal:
		ref = protocol.Reference{Kind: protocol.ReferencePortal, Path: rng.Path}
	case protocol.RangeTarball:
		ref = protocol.Reference{Kind: protocol.ReferenceTarball, Path: rng.Path}
	case protocol.RangeFolder:
		ref = protocol.Reference{Kind: protocol.ReferenceFolder, Path: rng.Path}
	case protocol.RangeURL:
		ref = protocol.Reference{Kind: protocol.ReferenceURL, URL: rng.URL}
	case protocol.RangeGit:
		ref = protocol.Reference{Kind: protocol.ReferenceGit, Git: rng.Git}
	default:
		return nil, &resolve.DescriptorError{Descriptor: d, Err: errUnsupportedKind(rng.Kind)}
	}

	var parent *protocol.Locator
	if d.Parent != "" {
		p, err := protocol.ParseLocator(d.Parent)
		if err != nil {
			return nil, err
		}
		parent = &p
	}

	locator := protocol.NewLocator(d.Ident, ref, parent)
	return nil, &resolve.NeedsFetchError{Locator: locator}
}

func (PathlikeResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	v := version.Version{}
	if man.Version != "" {
		parsed, err := version.Parse(man.Version)
		if err == nil {
			v = parsed
		}
	}
	return resolutionFromManifest(locator, v, man, nil)
}

type unsupportedKindError struct{ kind protocol.RangeKind }

func (e unsupportedKindError) Error() string {
	return "resolve: PathlikeResolver does not handle range kind " + string(e.kind)
}

func errUnsupportedKind(kind protocol.RangeKind) error {
	return unsupportedKindError{kind: kind}
}
