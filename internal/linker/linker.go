// Package linker holds the model shared by the three install
// topologies: PnP's dehydrated table, the pnpm-style
// content-addressed store, and the classic nested node_modules tree.
// Each topology's own package implements Linker against this model;
// none of them talk to resolve.Tree or lockfile.Resolution directly,
// so the build-plan shape and the unplug decision stay identical
// across all three.
package linker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
)

// LinkKind mirrors link_type literally: HARD names a
// zip-backed package materialized on disk (extracted or kept zipped),
// SOFT names a local/link/portal/workspace package linked by path.
type LinkKind string

const (
	LinkHard LinkKind = "HARD"
	LinkSoft LinkKind = "SOFT"
)

// Edge is one resolved dependency arrow out of a Package: the ident a
// consumer imports under (its alias, which can differ from the
// depended-on package's own ident under a npm: alias descriptor) and
// the locator it resolves to.
type Edge struct {
	Alias   ident.Ident
	Locator protocol.Locator
}

// Package is one locator's full install-time context: everything a
// linker needs to place it on disk and everything the build scheduler
// needs to decide whether to run its lifecycle scripts.
type Package struct {
	Locator  protocol.Locator
	Manifest *manifest.Manifest
	Data     *fetch.PackageData

	Dependencies []Edge
	Peers        []ident.Ident

	Kind LinkKind

	Unplugged  bool
	UnplugPath string  // absolute, only set when Unplugged
}

// Install is the full resolved graph a Linker consumes: every
// fetched Package keyed by locator, the workspace roots, and the
// resolve.Tree they were derived from (kept around for Why/virtual
// edge lookups a linker may still need mid-link).
type Install struct {
	ProjectRoot string
	Roots       []protocol.Descriptor
	Tree        *resolve.Tree
	Packages    map[protocol.Locator]*Package
}

// BuildRequest is one locator's entry in the build plan: its install
// cwd, the lifecycle commands to run there, and whether a failure
// there should abort the whole install.
type BuildRequest struct {
	Cwd           string
	Locator       protocol.Locator
	Commands      []string
	AllowedToFail bool
	ForceRebuild  bool
}

// BuildPlan is an ordered set of BuildRequests: entries plus, for each
// entry index, the set of entry indices it depends on (must build
// first).
type BuildPlan struct {
	Entries      []BuildRequest
	Dependencies map[int]map[int]struct{}
}

// LinkResult is what a successful Link call hands back: the build
// plan for the build scheduler to run, and a package count whose
// meaning depends on the topology: pnp counts packages it freshly
// extracted, pnpmstore counts every placed locator, and nodemodules
// counts the package directories found in the finished tree.
type LinkResult struct {
	Plan      BuildPlan
	Installed int
}

// Linker is the uniform interface each of the three topologies
// (node_modules, isolated, PnP) implements.
type Linker interface {
	Link(ctx context.Context, install *Install) (*LinkResult, error)
}

// BuildCommandsFor returns the lifecycle build commands a locator's
// Resolution carries, or nil when it has none (no build entry needed).
func BuildCommandsFor(install *Install, locator protocol.Locator) []string {
	if install.Tree == nil {
		return nil
	}
	res, ok := install.Tree.LocatorToResolution[locator]
	if !ok {
		return nil
	}
	return res.Flags.BuildCommands
}

// IsOptionalBuild reports whether a locator was only reached through
// optionalDependencies edges, per OptionalBuilds set;
// a build entry for such a locator is allowed to fail without aborting
// the whole scheduler run.
func IsOptionalBuild(install *Install, locator protocol.Locator) bool {
	if install.Tree == nil {
		return false
	}
	_, ok := install.Tree.OptionalBuilds[locator]
	return ok
}

// PopulateBuildDependencies builds the idx -> set<idx> dependency map
// BuildRequests needs: for each build entry, every
// other build entry reachable through its package's own dependency
// edges becomes a build-order predecessor.
func PopulateBuildDependencies(entries []BuildRequest, install *Install) map[int]map[int]struct{} {
	indexOf := map[protocol.Locator]int{}
	for i, e := range entries {
		indexOf[e.Locator] = i
	}

	deps := map[int]map[int]struct{}{}
	for i, e := range entries {
		seen := map[protocol.Locator]bool{e.Locator: true}
		queue := []protocol.Locator{e.Locator}
		for len(queue) > 0 {
			pkg, ok := install.Packages[queue[0]]
			queue = queue[1:]
			if !ok {
				continue
			}
			for _, edge := range pkg.Dependencies {
				if seen[edge.Locator] {
					continue
				}
				seen[edge.Locator] = true
				queue = append(queue, edge.Locator)
				depIdx, ok := indexOf[edge.Locator]
				if !ok || depIdx == i {
					continue
				}
				if deps[i] == nil {
					deps[i] = map[int]struct{}{}
				}
				deps[i][depIdx] = struct{}{}
			}
		}
	}
	return deps
}

// BuildInstall assembles an Install from a resolved, fetched tree:
// tree's locators become Packages carrying their already-fetched
// PackageData and decoded Manifest, with Dependencies/Peers resolved
// through tree's virtual edges so every linker sees the same concrete
// graph regardless of topology.
func BuildInstall(projectRoot string, tree *resolve.Tree, data map[protocol.Locator]*fetch.PackageData, manifests map[protocol.Locator]*manifest.Manifest) *Install {
	install := &Install{
		ProjectRoot: projectRoot,
		Roots:       tree.Roots,
		Tree:        tree,
		Packages:    map[protocol.Locator]*Package{},
	}

	for locator, res := range tree.LocatorToResolution {
		pkg := &Package{
			Locator:  locator,
			Manifest: manifests[locator],
			Data:     data[locator],
			Kind:     linkKindFor(data[locator]),
		}
		for _, dep := range res.Dependencies {
			pkg.Dependencies = append(pkg.Dependencies, Edge{
				Alias:   dep.Ident,
				Locator: tree.ResolveDependency(locator, dep),
			})
		}
		for id := range res.PeerDependencies {
			pkg.Peers = append(pkg.Peers, id)
		}
		install.Packages[locator] = pkg
	}

	return install
}

func linkKindFor(data *fetch.PackageData) LinkKind {
	if data != nil && data.Kind == fetch.PackageDataLocal {
		return LinkSoft
	}
	return LinkHard
}

// RemoveNodeModules clears an existing node_modules directory the way
// all three linkers' shared pre-step requires: entries are deleted
// individually, and any dot-prefixed subdirectory other than ".bin" is
// left in place, since tooling (editors, package managers' own caches)
// may keep meaningful state there between installs. The directory
// itself is removed only when no such subdirectory was kept.
func RemoveNodeModules(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	keepDir := false
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() && name != ".bin" && len(name) > 0 && name[0] == '.' {
			keepDir = true
			continue
		}
		if err := os.RemoveAll(filepath.Join(path, name)); err != nil {
			return err
		}
	}

	if !keepDir {
		return os.Remove(path)
	}
	return nil
}
