// Package install wires resolution, fetching, linking and building
// into the single pipeline every zpm command that touches the
// dependency graph (install, add, remove, why, dedupe, run,
// constraints) drives.
package install

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/build"
	"github.com/zpmjs/zpm/internal/cache"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/linker/nodemodules"
	"github.com/zpmjs/zpm/internal/linker/pnp"
	"github.com/zpmjs/zpm/internal/linker/pnpmstore"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/resolve/resolvers"
	"github.com/zpmjs/zpm/internal/scriptenv"
	"github.com/zpmjs/zpm/internal/workspace"
)

// Topology picks which of the three linker packages materializes the
// install.
type Topology string

const (
	TopologyPnP         Topology = "pnp"
	TopologyPnpmStore   Topology = "pnpm-store"
	TopologyNodeModules Topology = "node-modules"
)

// Options configures one install run.
type Options struct {
	ProjectRoot string
	RegistryURL string
	AuthToken   string
	Cache       *cache.Cache
	Logger      hclog.Logger
	Concurrency int
	Immutable   bool
	Topology    Topology

	// RefreshLockfile forces every descriptor through the resolver
	// instead of adopting its existing lockfile pin.
	RefreshLockfile bool
}

// Result is what a full install run hands back for the command layer
// to report.
type Result struct {
	Tree     *resolve.Tree
	Document *lockfile.Document
	Install  *linker.Install
	Link     *linker.LinkResult
	Build    *build.Result
}

const lockfileName = "zpm.lock"
const buildStateName = ".zpm-build-state.json"

// Run discovers the workspace, resolves every workspace root's
// dependencies, fetches every resolved locator, links the install
// tree with the configured topology, and runs the build scheduler
// over the resulting plan. The lockfile is written back to
// ProjectRoot/zpm.lock on success, unless Immutable is set.
func Run(ctx context.Context, opts Options) (*Result, error) {
	catalog, err := workspace.Discover(opts.ProjectRoot)
	if err != nil {
		return nil, errors.Wrap(err, "install: discovering workspace")
	}

	env := fetch.NewEnv(opts.Cache, opts.RegistryURL, opts.Logger)
	env.ProjectRoot = opts.ProjectRoot
	env.Workspaces = catalog.WorkspaceMap()
	registry := fetch.NewRegistry(env)

	resolverTable := resolvers.New(env.HTTPClient, opts.RegistryURL, opts.ProjectRoot, nil)

	engine := resolve.NewEngine(resolverTable, registry)
	if opts.Concurrency > 0 {
		engine.Parallelism = opts.Concurrency
	}
	engine.RefreshLockfile = opts.RefreshLockfile

	if pins, err := readLockfile(opts.ProjectRoot); err == nil {
		engine.Pins = pins
	} else if !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "install: reading existing lockfile")
	}

	roots := rootDescriptors(catalog)

	tree, err := engine.Run(ctx, roots)
	if err != nil {
		return nil, errors.Wrap(err, "install: resolving dependency graph")
	}
	resolve.Virtualize(tree)

	data, manifests, err := fetchAll(ctx, registry, tree)
	if err != nil {
		return nil, errors.Wrap(err, "install: fetching resolved packages")
	}

	inst := linker.BuildInstall(opts.ProjectRoot, tree, data, manifests)

	lnk, err := newLinker(opts.Topology, catalog)
	if err != nil {
		return nil, err
	}
	linkResult, err := lnk.Link(ctx, inst)
	if err != nil {
		return nil, errors.Wrap(err, "install: linking")
	}

	buildResult, err := runBuild(ctx, opts, inst, linkResult)
	if err != nil {
		return nil, errors.Wrap(err, "install: building")
	}

	doc := documentFromTree(tree)
	if !opts.Immutable {
		if err := writeLockfile(opts.ProjectRoot, doc); err != nil {
			return nil, errors.Wrap(err, "install: writing lockfile")
		}
	}

	return &Result{Tree: tree, Document: doc, Install: inst, Link: linkResult, Build: buildResult}, nil
}

func newLinker(topology Topology, catalog *workspace.Catalog) (linker.Linker, error) {
	switch topology {
	case "", TopologyNodeModules:
		return nodemodules.Linker{}, nil
	case TopologyPnpmStore:
		return pnpmstore.Linker{}, nil
	case TopologyPnP:
		return &pnp.Linker{RootDependenciesMeta: rootDependenciesMeta(catalog)}, nil
	default:
		return nil, fmt.Errorf("install: unknown topology %q", topology)
	}
}

// rootDependenciesMeta converts the root manifest's name-keyed
// dependenciesMeta table into the ident-keyed form pnp.Linker consults
// for its per-package "unplugged" override.
func rootDependenciesMeta(catalog *workspace.Catalog) map[ident.Ident]manifest.DependencyMeta {
	out := map[ident.Ident]manifest.DependencyMeta{}
	for name, meta := range catalog.Root.Manifest.DependenciesMeta {
		id, err := ident.Parse(name)
		if err != nil {
			continue
		}
		out[id] = meta
	}
	return out
}

func runBuild(ctx context.Context, opts Options, inst *linker.Install, link *linker.LinkResult) (*build.Result, error) {
	composer := &scriptenv.Composer{Install: inst, Locations: scriptenv.Locations{}}
	runner := &scriptenv.Runner{Composer: composer}
	manager := &build.Manager{
		Plan:        link.Plan,
		Install:     inst,
		Runner:      runner,
		StatePath:   filepath.Join(opts.ProjectRoot, "node_modules", ".cache", "zpm", buildStateName),
		Concurrency: opts.Concurrency,
	}
	return manager.Run(ctx)
}

// rootDescriptors turns every workspace member's manifest dependency
// fields into the Descriptor set resolve.Engine.Run consumes as roots,
// collapsing every workspace's package.json into one flat set before
// kicking off resolution.
func rootDescriptors(catalog *workspace.Catalog) []protocol.Descriptor {
	var roots []protocol.Descriptor
	roots = append(roots, descriptorsFromManifest(catalog.Root.Manifest, nil)...)
	for _, member := range catalog.Members {
		roots = append(roots, descriptorsFromManifest(member.Manifest, nil)...)
	}
	return roots
}

func descriptorsFromManifest(man *manifest.Manifest, parent *protocol.Locator) []protocol.Descriptor {
	var out []protocol.Descriptor
	add := func(deps map[string]string) {
		for name, raw := range deps {
			id, err := ident.Parse(name)
			if err != nil {
				continue
			}
			rng, err := protocol.ParseRange(raw)
			if err != nil {
				continue
			}
			out = append(out, protocol.NewDescriptor(id, rng, parent))
		}
	}
	add(man.Dependencies)
	add(man.DevDependencies)
	add(man.OptionalDependencies)
	return out
}

// fetchAll fetches every locator discovered by the resolver, reading
// each one's manifest back out of its fetched archive or local
// directory so linker.BuildInstall has both the placement-relevant
// PackageData and the dependency/peer/bin data the manifest carries.
func fetchAll(ctx context.Context, registry *fetch.Registry, tree *resolve.Tree) (map[protocol.Locator]*fetch.PackageData, map[protocol.Locator]*manifest.Manifest, error) {
	data := make(map[protocol.Locator]*fetch.PackageData, len(tree.LocatorToResolution))
	manifests := make(map[protocol.Locator]*manifest.Manifest, len(tree.LocatorToResolution))

	for locator := range tree.LocatorToResolution {
		pd, err := registry.Fetch(ctx, locator, nil)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "fetching %s", locator)
		}
		data[locator] = pd

		man, err := readManifest(pd)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading manifest for %s", locator)
		}
		manifests[locator] = man
	}
	return data, manifests, nil
}

func readManifest(pd *fetch.PackageData) (*manifest.Manifest, error) {
	switch pd.Kind {
	case fetch.PackageDataLocal:
		raw, err := os.ReadFile(filepath.Join(pd.LocalPath, "package.json"))
		if err != nil {
			return nil, err
		}
		return manifest.Parse(raw)
	default:
		raw, err := os.ReadFile(pd.ArchivePath)
		if err != nil {
			return nil, err
		}
		entries, err := archive.ReadZip(raw)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Name == "package.json" {
				return manifest.Parse(e.Data)
			}
		}
		return nil, errors.New("archive has no package.json")
	}
}

// documentFromTree projects a resolved Tree down to the on-disk
// lockfile shape.
func documentFromTree(tree *resolve.Tree) *lockfile.Document {
	doc := lockfile.NewDocument()
	for descriptor, locator := range tree.DescriptorToLocator {
		doc.Descriptors[descriptor] = locator
	}
	for locator, res := range tree.LocatorToResolution {
		doc.Resolutions[locator] = &lockfile.Resolution{
			Locator:                 locator,
			Version:                 res.Version,
			Requirements:            res.Requirements,
			Dependencies:            res.Dependencies,
			PeerDependencies:        res.PeerDependencies,
			OptionalDependencies:    res.OptionalDependencies,
			MissingPeerDependencies: res.MissingPeerDependencies,
			Checksum:                res.Checksum,
			Flags:                   res.Flags,
		}
	}
	return doc
}

// WriteDedupedLockfile rewrites projectRoot's lockfile from tree after
// a Dedupe pass has repointed some of its descriptors.
func WriteDedupedLockfile(projectRoot string, tree *resolve.Tree) error {
	return writeLockfile(projectRoot, documentFromTree(tree))
}

func writeLockfile(projectRoot string, doc *lockfile.Document) error {
	tmp := filepath.Join(projectRoot, lockfileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := doc.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(projectRoot, lockfileName))
}

func readLockfile(projectRoot string) (*lockfile.Document, error) {
	raw, err := os.ReadFile(filepath.Join(projectRoot, lockfileName))
	if err != nil {
		return nil, err
	}
	return lockfile.Decode(raw)
}

// Why renders the chains responsible for every resolved locator of id
// as indented JSON, for the `zpm why` command.
func Why(tree *resolve.Tree, id ident.Ident) ([]byte, error) {
	return json.MarshalIndent(tree.Why(id), "", " ")
}

// RootPackage synthesizes the project root's own Package and registers
// it into result.Install so a scriptenv.Composer can resolve lifecycle
// scripts and bin entries for `run`/`exec` invocations targeting it.
// BuildInstall only ever registers a locator's dependency *targets*,
// never a workspace root's own identity, since no other package
// depends on a root by locator.
func RootPackage(result *Result, catalog *workspace.Catalog) (protocol.Locator, error) {
	id, err := ident.Parse(catalog.Root.Manifest.Name)
	if err != nil {
		return protocol.Locator{}, errors.Wrap(err, "install: root package has no usable name")
	}

	locator := protocol.NewLocator(id, protocol.Reference{Kind: protocol.ReferenceWorkspacePath, Path: "."}, nil)
	if existing, ok := result.Install.Packages[locator]; ok {
		return existing.Locator, nil
	}

	pkg := &linker.Package{
		Locator:  locator,
		Manifest: catalog.Root.Manifest,
		Data:     &fetch.PackageData{Locator: locator, Kind: fetch.PackageDataLocal, LocalPath: catalog.Root.Dir},
		Kind:     linker.LinkSoft,
	}
	for name := range catalog.Root.Manifest.Dependencies {
		depID, err := ident.Parse(name)
		if err != nil {
			continue
		}
		for descriptor, depLocator := range result.Tree.DescriptorToLocator {
			if descriptor.Ident == depID {
				pkg.Dependencies = append(pkg.Dependencies, linker.Edge{Alias: depID, Locator: depLocator})
				break
			}
		}
	}

	result.Install.Packages[locator] = pkg
	return locator, nil
}
