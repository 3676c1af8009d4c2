// Package pnp implements a PnP linker: a single .pnp.cjs carrying a
// dehydrated package_registry_data table, no node_modules tree.
package pnp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Linker emits .pnp.cjs. It extracts a package only when ShouldUnplug
// says so; everything else is addressed straight out of its cache
// zip, the way Yarn's own PnP runtime mounts a zip as a virtual
// directory.
type Linker struct {
	// RootDependenciesMeta is the root manifest's dependenciesMeta
	// table, consulted for the per-ident "unplugged" override.
	RootDependenciesMeta map[ident.Ident]manifest.DependencyMeta
}

// packageInfo mirrors PnpPackageInformation field-for-field.
type packageInfo struct {
	PackageLocation     string           `json:"packageLocation"`
	PackageDependencies [][2]interface{} `json:"packageDependencies"`
	PackagePeers        []string         `json:"packagePeers"`
	LinkType            string           `json:"linkType"`
	DiscardFromLookup   bool             `json:"discardFromLookup"`
}

type dependencyTreeRoot struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
}

type pnpState struct {
	EnableTopLevelFallback bool          `json:"enableTopLevelFallback"`
	FallbackExclusionList  []interface{} `json:"fallbackExclusionList"`
	FallbackPool           []interface{} `json:"fallbackPool"`
	IgnorePatternData      interface{}   `json:"ignorePatternData"`

	// [identOrNull, [[referenceOrNull, packageInfo], ...]]
	PackageRegistryData [][2]interface{}     `json:"packageRegistryData"`
	DependencyTreeRoots []dependencyTreeRoot `json:"dependencyTreeRoots"`
}

func (l Linker) Link(ctx context.Context, install *linker.Install) (*linker.LinkResult, error) {
	unpluggedRoot := filepath.Join(install.ProjectRoot, ".yarn", "unplugged")

	byIdent := map[string]map[string]packageInfo{}
	installed := 0

	locators := make([]protocol.Locator, 0, len(install.Packages))
	for l := range install.Packages {
		locators = append(locators, l)
	}
	sort.Slice(locators, func(i, j int) bool { return locators[i].String() < locators[j].String() })

	for _, locator := range locators {
		pkg := install.Packages[locator]

		deps := make([][2]interface{}, 0, len(pkg.Dependencies)+1)
		selfSeen := false
		for _, e := range pkg.Dependencies {
			if e.Alias == locator.Ident {
				selfSeen = true
			}
			deps = append(deps, dependencyTarget(e))
		}
		if !selfSeen {
			deps = append(deps, dependencyTarget(linker.Edge{Alias: locator.Ident, Locator: locator}))
		}
		sort.Slice(deps, func(i, j int) bool { return deps[i][0].(string) < deps[j][0].(string) })

		peers := make([]string, 0, len(pkg.Peers))
		for _, p := range pkg.Peers {
			peers = append(peers, p.String())
		}
		sort.Strings(peers)

		loc, extracted, err := l.packageLocation(install.ProjectRoot, unpluggedRoot, pkg)
		if err != nil {
			return nil, err
		}
		if extracted {
			installed++
		}

		info := packageInfo{
			PackageLocation:     loc,
			PackageDependencies: deps,
			PackagePeers:        peers,
			LinkType:            string(pkg.Kind),
			DiscardFromLookup:   false,
		}

		identKey := locator.Ident.String()
		if byIdent[identKey] == nil {
			byIdent[identKey] = map[string]packageInfo{}
		}
		byIdent[identKey][locator.Reference] = info
	}

	state := pnpState{
		FallbackExclusionList: []interface{}{},
		FallbackPool:          []interface{}{},
	}

	idents := make([]string, 0, len(byIdent))
	for id := range byIdent {
		idents = append(idents, id)
	}
	sort.Strings(idents)
	for _, id := range idents {
		refs := byIdent[id]
		refKeys := make([]string, 0, len(refs))
		for r := range refs {
			refKeys = append(refKeys, r)
		}
		sort.Strings(refKeys)
		pairs := make([][2]interface{}, 0, len(refKeys))
		for _, r := range refKeys {
			pairs = append(pairs, [2]interface{}{r, refs[r]})
		}
		state.PackageRegistryData = append(state.PackageRegistryData, [2]interface{}{id, pairs})
	}

	for _, root := range install.Roots {
		rootLocator, ok := install.Tree.DescriptorToLocator[root]
		if !ok {
			continue
		}
		state.DependencyTreeRoots = append(state.DependencyTreeRoots, dependencyTreeRoot{
			Name:      rootLocator.Ident.String(),
			Reference: rootLocator.Reference,
		})
	}

	if err := writePnpFile(install.ProjectRoot, state); err != nil {
		return nil, err
	}

	return &linker.LinkResult{Installed: installed}, nil
}

func dependencyTarget(e linker.Edge) [2]interface{} {
	if e.Alias == e.Locator.Ident {
		return [2]interface{}{e.Alias.String(), e.Locator.Reference}
	}
	return [2]interface{}{e.Alias.String(), []interface{}{e.Locator.Ident.String(), e.Locator.Reference}}
}

// packageLocation resolves where on disk a package's files live,
// extracting it first when ShouldUnplug says so. Returns the
// project-relative location string ("./"-rooted, or "../"-rooted for
// a path outside the project; always trailing-slash-terminated) and
// whether this call performed a fresh extraction.
func (l Linker) packageLocation(projectRoot, unpluggedRoot string, pkg *linker.Package) (string, bool, error) {
	if pkg.Data == nil {
		return "./", false, nil
	}

	if pkg.Data.Kind == fetch.PackageDataLocal {
		return normalizeLocation(projectRoot, pkg.Data.LocalPath), false, nil
	}

	raw, err := os.ReadFile(pkg.Data.ArchivePath)
	if err != nil {
		return "", false, errors.Wrapf(err, "pnp: reading %s", pkg.Data.ArchivePath)
	}
	entries, err := archive.ReadZip(raw)
	if err != nil {
		return "", false, err
	}

	var rootMeta *manifest.DependencyMeta
	if meta, ok := l.RootDependenciesMeta[pkg.Locator.Ident]; ok {
		rootMeta = &meta
	}

	if !linker.ShouldUnplug(pkg.Manifest, nil, rootMeta, entries) {
		return normalizeLocation(projectRoot, pkg.Data.ArchivePath) + "node_modules/" + pkg.Locator.Ident.String() + "/", false, nil
	}

	extractPath, fresh, err := extractTo(unpluggedRoot, pkg.Locator, entries)
	if err != nil {
		return "", false, err
	}
	pkg.Unplugged = true
	pkg.UnplugPath = extractPath
	return normalizeLocation(projectRoot, extractPath), fresh, nil
}

func normalizeLocation(projectRoot, abs string) string {
	rel, err := filepath.Rel(projectRoot, abs)
	if err != nil {
		rel = abs
	}
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return "./"
	}
	if rel[len(rel)-1] != '/' {
		rel += "/"
	}
	if !strings.HasPrefix(rel, "./") && !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel
}

// extractTo writes entries under <unpluggedRoot>/<locator-slug>/<ident>/
// and returns that directory, proving completion with a .ready
// sentinel in the slug directory, and skips the write entirely when
// .ready already exists.
func extractTo(unpluggedRoot string, locator protocol.Locator, entries []archive.Entry) (string, bool, error) {
	slug := linker.LocatorSlug(locator.Ident.String(), locator.String())
	dest := filepath.Join(unpluggedRoot, slug)
	readyPath := filepath.Join(dest, ".ready")
	pkgDir := filepath.Join(dest, linker.IdentSubdir(locator.Ident))

	if _, err := os.Stat(readyPath); err == nil {
		return pkgDir, false, nil
	}

	for _, e := range entries {
		target := filepath.Join(pkgDir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", false, errors.Wrapf(err, "pnp: creating %s", filepath.Dir(target))
		}
		if err := os.WriteFile(target, e.Data, os.FileMode(e.Mode)); err != nil {
			return "", false, errors.Wrapf(err, "pnp: writing %s", target)
		}
	}
	if err := os.WriteFile(readyPath, nil, 0o644); err != nil {
		return "", false, errors.Wrapf(err, "pnp: writing %s", readyPath)
	}

	return pkgDir, true, nil
}

// writePnpFile renders state as the RAW_RUNTIME_STATE payload of a
// .pnp.cjs loader, matching the header/footer shape Yarn's own
// generated file uses so a standard pnp-loader hook can hydrate it.
func writePnpFile(projectRoot string, state pnpState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "pnp: encoding runtime state")
	}
	quoted, err := json.Marshal(string(payload))
	if err != nil {
		return errors.Wrap(err, "pnp: quoting runtime state")
	}

	script := "#!/usr/bin/env node\n" +
		"/* eslint-disable */\n" +
		"// @ts-nocheck\n" +
		"\"use strict\";\n\n" +
		"const RAW_RUNTIME_STATE =\n" + string(quoted) + ";\n\n" +
		"function $$SETUP_STATE(hydrateRuntimeState, basePath) {\n" +
		" return hydrateRuntimeState(JSON.parse(RAW_RUNTIME_STATE), {basePath: basePath || __dirname});\n" +
		"}\n\n" +
		"if (typeof module !== \"undefined\" && module.exports) {\n" +
		" module.exports.setup = $$SETUP_STATE;\n" +
		"}\n"

	return os.WriteFile(filepath.Join(projectRoot, ".pnp.cjs"), []byte(script), 0o755)
}
