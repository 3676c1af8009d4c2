// Package resolvers supplies the concrete per-RangeKind Resolver
// implementations assumes but leaves as a pluggable
// interface: registry semver/tag lookups against a real npm-shaped
// registry, workspace/link/portal/tarball/folder/url/git/patch/builtin
// resolution from an already-known locator, and the one manifest-to-
// Resolution conversion every fetch-then-resolve kind shares.
package resolvers

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/version"
)

// resolutionFromManifest builds the lockfile.Resolution for a locator
// whose manifest has just been fetched: every dependency/peer/optional
// map is walked into the Resolution shape, with each regular
// dependency's range text re-parsed so a relative
// tarball/folder/link/portal dependency picks up locator as its parent.
func resolutionFromManifest(locator protocol.Locator, v version.Version, man *manifest.Manifest, requirements map[string]string) (*lockfile.Resolution, error) {
	deps, err := dependencyEntries(locator, man.Dependencies)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: %s dependencies", locator)
	}

	peers := map[ident.Ident]string{}
	for name, rng := range man.PeerDependencies {
		id, err := ident.Parse(name)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve: %s peerDependencies", locator)
		}
		peers[id] = rng
	}

	optional := map[ident.Ident]struct{}{}
	for name := range man.OptionalDependencies {
		id, err := ident.Parse(name)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve: %s optionalDependencies", locator)
		}
		optional[id] = struct{}{}
	}
	for name, meta := range man.DependenciesMeta {
		if !meta.Optional {
			continue
		}
		id, err := ident.Parse(name)
		if err != nil {
			continue
		}
		optional[id] = struct{}{}
	}

	return &lockfile.Resolution{
		Locator:              locator,
		Version:              v,
		Requirements:         requirements,
		Dependencies:         deps,
		PeerDependencies:     peers,
		OptionalDependencies: optional,
		Flags:                lockfile.PackageFlags{
			BuildCommands: buildCommandsOf(man),
		},
	}, nil
}

// buildCommandsOf extracts the lifecycle scripts a build entry needs
// to run, in npm's own fixed order.
func buildCommandsOf(man *manifest.Manifest) []string {
	var cmds []string
	for _, name := range []string{"preinstall", "install", "postinstall"} {
		if script, ok := man.Scripts[name]; ok && script != "" {
			cmds = append(cmds, script)
		}
	}
	return cmds
}

// dependencyEntries converts a manifest's raw "name": "range" map into
// ordered DependencyEntry values, binding parent-relative ranges
// (tarball/folder/link/portal/patch) to locator via protocol.NewDescriptor.
func dependencyEntries(locator protocol.Locator, raw map[string]string) ([]lockfile.DependencyEntry, error) {
	entries := make([]lockfile.DependencyEntry, 0, len(raw))
	for name, rng := range raw {
		id, err := ident.Parse(name)
		if err != nil {
			return nil, err
		}
		parsed, err := protocol.ParseRange(rng)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %q", name)
		}
		entries = append(entries, lockfile.DependencyEntry{
			Ident:      id,
			Descriptor: protocol.NewDescriptor(id, parsed, &locator),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ident.Less(entries[j].Ident) })
	return entries, nil
}
