package fetch

import (
	"context"
	"path/filepath"

	"github.com/zpmjs/zpm/internal/protocol"
)

// LinkFetcher and PortalFetcher both implement "no
// download, just point at the resolved path" strategy; they differ
// only in how the linker treats the resulting edge (a plain symlink
// vs. one whose target keeps following its own dependency tree), a
// distinction this package has no stake in.
type LinkFetcher struct{}

func (LinkFetcher) Fetch(_ context.Context, env *Env, locator protocol.Locator, parent *PackageData) (*PackageData, error) {
	return localFromPath(env, locator, parent)
}

type PortalFetcher struct{}

func (PortalFetcher) Fetch(_ context.Context, env *Env, locator protocol.Locator, parent *PackageData) (*PackageData, error) {
	return localFromPath(env, locator, parent)
}

func localFromPath(env *Env, locator protocol.Locator, parent *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}

	base := env.ProjectRoot
	if parent != nil && parent.Kind == PackageDataLocal {
		base = parent.LocalPath
	}
	return &PackageData{Locator: locator, Kind: PackageDataLocal, LocalPath: filepath.Join(base, ref.Path)}, nil
}

// WorkspaceFetcher implements Workspace strategy: the
// resolved path is one of the project's own workspace members, found
// by path from the project root or by ident from env.Workspaces.
type WorkspaceFetcher struct{}

func (WorkspaceFetcher) Fetch(_ context.Context, env *Env, locator protocol.Locator, _ *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}

	if ref.Kind == protocol.ReferenceWorkspacePath {
		return &PackageData{Locator: locator, Kind: PackageDataLocal, LocalPath: filepath.Join(env.ProjectRoot, ref.Path)}, nil
	}

	dir, ok := env.Workspaces[*ref.WorkspaceIdent]
	if !ok {
		return nil, &WorkspaceMissError{Locator: locator}
	}
	return &PackageData{Locator: locator, Kind: PackageDataLocal, LocalPath: dir}, nil
}
