package fetch

import (
	"context"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Fetcher is one reference kind's retrieval strategy:
// given the locator and the install environment, produce its
// PackageData. parent carries the enclosing workspace's own fetched
// data for the reference kinds that resolve relative to it (Tarball,
// Folder, Patch, Link, Portal); it is nil otherwise.
type Fetcher interface {
	Fetch(ctx context.Context, env *Env, locator protocol.Locator, parent *PackageData) (*PackageData, error)
}

// Registry dispatches a Locator to the Fetcher its reference kind
// names, and doubles as the resolve.Fetcher the resolution engine
// calls to satisfy a NeedsFetchError: FetchManifest fully fetches the
// locator (so its result is cached for the linker to reuse) and peeks
// package.json back out of it.
type Registry struct {
	env      *Env
	fetchers map[protocol.ReferenceKind]Fetcher
}

// NewRegistry builds a Registry wired with the default Fetcher for
// every reference kind describes.
func NewRegistry(env *Env) *Registry {
	return &Registry{
		env:      env,
		fetchers: map[protocol.ReferenceKind]Fetcher{
			protocol.ReferenceShorthand: RegistryFetcher{},
			protocol.ReferenceRegistry: RegistryFetcher{},
			protocol.ReferenceGit: GitFetcher{},
			protocol.ReferenceURL: UrlFetcher{},
			protocol.ReferenceTarball: TarballFetcher{},
			protocol.ReferenceFolder: FolderFetcher{},
			protocol.ReferenceLink: LinkFetcher{},
			protocol.ReferencePortal: PortalFetcher{},
			protocol.ReferenceWorkspaceIdent: WorkspaceFetcher{},
			protocol.ReferenceWorkspacePath: WorkspaceFetcher{},
			protocol.ReferenceBuiltin: BuiltinFetcher{},
		},
	}
}

// Fetch dispatches locator to its reference kind's Fetcher. Patch and
// Virtual references are handled here directly: Patch needs to
// recursively fetch its inner reference before it can run the diff,
// and Virtual is never itself fetched (its physical locator is).
//
// When the caller has no parent PackageData in hand but locator binds
// to one (its Parent field names the enclosing workspace's own
// locator text), it is fetched first and threaded through — this is
// what lets FetchManifest, which only ever sees a bare locator, still
// satisfy a Tarball/Folder/Patch reference.
func (r *Registry) Fetch(ctx context.Context, locator protocol.Locator, parent *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}

	if parent == nil && locator.Parent != "" {
		parentLocator, err := protocol.ParseLocator(locator.Parent)
		if err != nil {
			return nil, err
		}
		parent, err = r.Fetch(ctx, parentLocator, nil)
		if err != nil {
			return nil, err
		}
	}

	switch ref.Kind {
	case protocol.ReferenceVirtual:
		phys, err := locator.PhysicalLocator()
		if err != nil {
			return nil, err
		}
		return r.Fetch(ctx, phys, parent)

	case protocol.ReferencePatch:
		return r.fetchPatch(ctx, locator, ref, parent)
	}

	f, ok := r.fetchers[ref.Kind]
	if !ok {
		return nil, &UnsupportedReferenceError{Kind: ref.Kind}
	}
	return f.Fetch(ctx, r.env, locator, parent)
}

// fetchPatch implements Patch strategy: fetch the
// inner locator first, read the diff text, apply it, and re-bundle
// under the same cache key as everything else so the result is
// addressable like any other fetched package.
func (r *Registry) fetchPatch(ctx context.Context, locator protocol.Locator, ref protocol.Reference, parent *PackageData) (*PackageData, error) {
	innerLocator := protocol.NewLocator(locator.Ident, *ref.PatchInner, nil)

	inner, err := r.Fetch(ctx, innerLocator, parent)
	if err != nil {
		return nil, err
	}

	patchText, err := readPatchText(r.env, ref.PatchPath, parent)
	if err != nil {
		return nil, err
	}

	path, _, checksum, err := r.env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		entries, err := applyPatchTo(inner, patchText)
		if err != nil {
			return nil, err
		}
		return archive.WriteZip(entries)
	})
	if err != nil {
		return nil, err
	}
	return &PackageData{Locator: locator, Kind: PackageDataZip, ArchivePath: path, Checksum: checksum}, nil
}

// FetchManifest implements resolve.Fetcher: fully fetch locator and
// hand back only its decoded package.json. The fetched PackageData
// itself is discarded here rather than cached in-process for the
// linker to reuse, since everything this package fetches is already
// staged under a deterministic cache path the linker can re-derive
// from the same locator.
func (r *Registry) FetchManifest(ctx context.Context, locator protocol.Locator) (*manifest.Manifest, error) {
	data, err := r.Fetch(ctx, locator, nil)
	if err != nil {
		return nil, err
	}
	raw, err := readParentFile(data, "package.json")
	if err != nil {
		return nil, err
	}
	return manifest.Parse(raw)
}
