// Package pnpmstore implements a pnpm-style linker: every
// physical package lands once under node_modules/.store/<slug>/<ident>,
// with per-package node_modules directories symlinking declared
// dependencies back at their store entry, and optional hoisting into
// a shared store-level or root-level node_modules.
package pnpmstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/yookoala/realpath"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Linker places every package under a shared content-addressed store
// and wires node_modules trees out of symlinks into it.
type Linker struct {
	// HoistPatterns match idents that get a symlink into the store's
	// own shared node_modules (visible to every store package).
	HoistPatterns []string
	// PublicHoistPatterns match idents that additionally get a
	// symlink into the project's root node_modules.
	PublicHoistPatterns []string
}

func (l Linker) Link(ctx context.Context, install *linker.Install) (*linker.LinkResult, error) {
	nmPath := filepath.Join(install.ProjectRoot, "node_modules")
	storePath := filepath.Join(nmPath, ".store")

	if err := linker.RemoveNodeModules(nmPath); err != nil {
		return nil, errors.Wrap(err, "pnpmstore: clearing node_modules")
	}

	locations, err := l.placePackages(install, storePath)
	if err != nil {
		return nil, err
	}

	buildEntries, err := l.buildEntries(install, locations)
	if err != nil {
		return nil, err
	}

	hoistGlobs, err := compileGlobs(l.HoistPatterns)
	if err != nil {
		return nil, err
	}
	publicHoistGlobs, err := compileGlobs(l.PublicHoistPatterns)
	if err != nil {
		return nil, err
	}

	hoisted := collectHoistable(install, hoistGlobs, locations)
	publicHoisted := collectHoistable(install, publicHoistGlobs, locations)

	storeNM := filepath.Join(storePath, "node_modules")
	for id, loc := range hoisted {
		linkPath := filepath.Join(storeNM, filepath.FromSlash(id))
		if err := linkDependency(linkPath, locations[loc]); err != nil {
			return nil, err
		}
	}

	directDeps := directWorkspaceDependencyIdents(install)
	for id, loc := range publicHoisted {
		if _, ok := directDeps[id]; ok {
			continue
		}
		linkPath := filepath.Join(nmPath, filepath.FromSlash(id))
		if err := linkDependency(linkPath, locations[loc]); err != nil {
			return nil, err
		}
	}

	if err := l.linkDependencyTrees(install, storePath, locations, hoisted); err != nil {
		return nil, err
	}

	plan := linker.BuildPlan{
		Entries:      buildEntries,
		Dependencies: linker.PopulateBuildDependencies(buildEntries, install),
	}
	return &linker.LinkResult{Plan: plan, Installed: len(locations)}, nil
}

// placePackages runs the first pass of linking: every local package
// keeps its existing directory; every zip-backed package is extracted
// once under the store. Returns each locator's absolute on-disk
// location.
func (l Linker) placePackages(install *linker.Install, storePath string) (map[protocol.Locator]string, error) {
	locations := map[protocol.Locator]string{}

	locators := sortedLocators(install)
	for _, locator := range locators {
		pkg := install.Packages[locator]

		if pkg.Kind == linker.LinkSoft && pkg.Data != nil && pkg.Data.Kind == fetch.PackageDataLocal {
			locations[locator] = pkg.Data.LocalPath
			continue
		}

		slugDir := filepath.Join(storePath, linker.LocatorSlug(locator.Ident.String(), locator.String()))
		dest := filepath.Join(slugDir, linker.IdentSubdir(locator.Ident))
		if err := extractOnce(slugDir, dest, pkg); err != nil {
			return nil, err
		}
		locations[locator] = dest
	}

	return locations, nil
}

func extractOnce(slugDir, dest string, pkg *linker.Package) error {
	readyPath := filepath.Join(slugDir, ".ready")
	if _, err := os.Stat(readyPath); err == nil {
		return nil
	}
	if pkg.Data == nil {
		return nil
	}

	raw, err := os.ReadFile(pkg.Data.ArchivePath)
	if err != nil {
		return errors.Wrapf(err, "pnpmstore: reading %s", pkg.Data.ArchivePath)
	}
	entries, err := archive.ReadZip(raw)
	if err != nil {
		return err
	}

	for _, e := range entries {
		target := filepath.Join(dest, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "pnpmstore: creating %s", filepath.Dir(target))
		}
		if err := os.WriteFile(target, e.Data, os.FileMode(e.Mode)); err != nil {
			return errors.Wrapf(err, "pnpmstore: writing %s", target)
		}
	}
	return os.WriteFile(readyPath, nil, 0o644)
}

// buildEntries emits one BuildRequest per locator whose Resolution
// carries lifecycle build commands, skipping local packages that live
// outside the project root.
func (l Linker) buildEntries(install *linker.Install, locations map[protocol.Locator]string) ([]linker.BuildRequest, error) {
	var entries []linker.BuildRequest
	for _, locator := range sortedLocators(install) {
		pkg := install.Packages[locator]
		if pkg.Kind == linker.LinkSoft && pkg.Data != nil && pkg.Data.Kind == fetch.PackageDataLocal {
			rel, err := filepath.Rel(install.ProjectRoot, pkg.Data.LocalPath)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
		}

		commands := linker.BuildCommandsFor(install, locator)
		if len(commands) == 0 {
			continue
		}

		entries = append(entries, linker.BuildRequest{
			Cwd:           locations[locator],
			Locator:       locator,
			Commands:      commands,
			AllowedToFail: linker.IsOptionalBuild(install, locator),
		})
	}
	return entries, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "pnpmstore: compiling hoist pattern %q", p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesAny(name string, globs []glob.Glob) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// collectHoistable picks, per ident matching a hoist pattern, the
// first locator encountered in sorted (deterministic) order; later
// conflicting versions of the same ident stay un-hoisted and get
// their own symlink inside the dependent's own node_modules.
func collectHoistable(install *linker.Install, globs []glob.Glob, locations map[protocol.Locator]string) map[string]protocol.Locator {
	out := map[string]protocol.Locator{}
	if len(globs) == 0 {
		return out
	}
	for _, locator := range sortedLocators(install) {
		ref, err := locator.ParsedReference()
		if err == nil && (ref.Kind == protocol.ReferenceWorkspaceIdent || ref.Kind == protocol.ReferenceWorkspacePath) {
			continue
		}
		name := locator.Ident.String()
		if !matchesAny(name, globs) {
			continue
		}
		if _, ok := out[name]; ok {
			continue
		}
		if _, ok := locations[locator]; !ok {
			continue
		}
		out[name] = locator
	}
	return out
}

func directWorkspaceDependencyIdents(install *linker.Install) map[string]struct{} {
	out := map[string]struct{}{}
	for _, locator := range sortedLocators(install) {
		ref, err := locator.ParsedReference()
		if err != nil || (ref.Kind != protocol.ReferenceWorkspaceIdent && ref.Kind != protocol.ReferenceWorkspacePath) {
			continue
		}
		pkg := install.Packages[locator]
		for _, e := range pkg.Dependencies {
			out[e.Alias.String()] = struct{}{}
		}
	}
	return out
}

// linkDependencyTrees runs the second pass: every package's own
// node_modules gets one symlink per declared dependency, pointing
// back at the dependency's store (or workspace) location, skipped
// when that exact version is already reachable through the store's
// shared hoisted node_modules.
func (l Linker) linkDependencyTrees(install *linker.Install, storePath string, locations map[protocol.Locator]string, hoisted map[string]protocol.Locator) error {
	for _, locator := range sortedLocators(install) {
		pkg := install.Packages[locator]
		ref, err := locator.ParsedReference()
		if err != nil {
			return err
		}
		isWorkspace := ref.Kind == protocol.ReferenceWorkspaceIdent || ref.Kind == protocol.ReferenceWorkspacePath
		isLocal := pkg.Kind == linker.LinkSoft && pkg.Data != nil && pkg.Data.Kind == fetch.PackageDataLocal

		base := locations[locator]
		if !isWorkspace {
			base = filepath.Join(storePath, linker.LocatorSlug(locator.Ident.String(), locator.String()))
		}
		baseNM := filepath.Join(base, "node_modules")

		for _, edge := range pkg.Dependencies {
			if !isLocal && !isWorkspace {
				if hoistedLocator, ok := hoisted[edge.Alias.String()]; ok && hoistedLocator == edge.Locator {
					continue
				}
			}

			depLoc, ok := locations[edge.Locator]
			if !ok {
				continue
			}

			linkPath := filepath.Join(baseNM, filepath.FromSlash(edge.Alias.String()))
			if err := linkDependency(linkPath, depLoc); err != nil {
				return err
			}
		}
	}
	return nil
}

func linkDependency(linkPath, target string) error {
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return errors.Wrapf(err, "pnpmstore: creating %s", filepath.Dir(linkPath))
	}
	_ = os.RemoveAll(linkPath)

	rel, err := filepath.Rel(filepath.Dir(linkPath), target)
	if err != nil {
		rel = target
	}
	if err := os.Symlink(rel, linkPath); err != nil {
		return errors.Wrapf(err, "pnpmstore: symlinking %s -> %s", linkPath, rel)
	}

	if _, err := realpath.Realpath(linkPath); err != nil {
		return errors.Wrapf(err, "pnpmstore: verifying symlink %s", linkPath)
	}
	return nil
}

func sortedLocators(install *linker.Install) []protocol.Locator {
	out := make([]protocol.Locator, 0, len(install.Packages))
	for l := range install.Packages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
