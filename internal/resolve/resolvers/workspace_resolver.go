package resolvers

import (
	"context"

	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/version"
)

// WorkspaceResolver implements Resolver for all four "workspace:"
// RangeKinds. WorkspaceMagic ("^"/"~"/"exact") and WorkspaceSemver just
// name the dependent's own sibling workspace member by its dependency
// ident, so both normalize down to the same ReferenceWorkspaceIdent
// fetch.WorkspaceFetcher already knows how to resolve; WorkspaceIdent
// and WorkspacePath carry their own target already.
type WorkspaceResolver struct{}

func (WorkspaceResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return nil, err
	}

	var ref protocol.Reference
	switch rng.Kind {
	case protocol.RangeWorkspaceMagic, protocol.RangeWorkspaceSemver:
		id := d.Ident
		ref = protocol.Reference{Kind: protocol.ReferenceWorkspaceIdent, WorkspaceIdent: &id}
	case protocol.RangeWorkspaceIdent:
		ref = protocol.Reference{Kind: protocol.ReferenceWorkspaceIdent, WorkspaceIdent: rng.WorkspaceIdent}
	case protocol.RangeWorkspacePath:
		ref = protocol.Reference{Kind: protocol.ReferenceWorkspacePath, Path: rng.WorkspacePath}
	default:
		return nil, &resolve.DescriptorError{Descriptor: d, Err: errUnsupportedKind(rng.Kind)}
	}

	locator := protocol.NewLocator(d.Ident, ref, nil)
	return nil, &resolve.NeedsFetchError{Locator: locator}
}

func (WorkspaceResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	v := version.Version{}
	if man.Version != "" {
		parsed, err := version.Parse(man.Version)
		if err == nil {
			v = parsed
		}
	}
	return resolutionFromManifest(locator, v, man, nil)
}
