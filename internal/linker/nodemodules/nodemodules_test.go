package nodemodules_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/linker/nodemodules"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
)

func mustLocator(t *testing.T, raw string) protocol.Locator {
	t.Helper()
	l, err := protocol.ParseLocator(raw)
	require.NoError(t, err)
	return l
}

func mustDescriptor(t *testing.T, raw string) protocol.Descriptor {
	t.Helper()
	d, err := protocol.ParseDescriptor(raw)
	require.NoError(t, err)
	return d
}

func mustIdent(t *testing.T, raw string) ident.Ident {
	t.Helper()
	id, err := ident.Parse(raw)
	require.NoError(t, err)
	return id
}

func writeZip(t *testing.T, name, version string) string {
	t.Helper()
	zipBytes, err := archive.WriteZip([]archive.Entry{
		archive.NewEntry("package.json", 0o644, []byte(`{"name":"`+name+`","version":"`+version+`"}`)),
	})
	require.NoError(t, err)
	dir := t.TempDir()
	path := filepath.Join(dir, name+".zip")
	require.NoError(t, os.WriteFile(path, zipBytes, 0o644))
	return path
}

func TestLinkHoistsNonConflictingDependencyToRoot(t *testing.T) {
	root := t.TempDir()

	rootDesc := mustDescriptor(t, "my-app@workspace:.")
	rootLocator := mustLocator(t, "my-app@workspace:.")
	leftPadLocator := mustLocator(t, "left-pad@npm:1.3.0")

	zipPath := writeZip(t, "left-pad", "1.3.0")

	install := &linker.Install{
		ProjectRoot: root,
		Roots:       []protocol.Descriptor{rootDesc},
		Tree: &resolve.Tree{
			Roots:               []protocol.Descriptor{rootDesc},
			DescriptorToLocator: map[protocol.Descriptor]protocol.Locator{rootDesc: rootLocator},
		},
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {
				Locator:  rootLocator,
				Manifest: &manifest.Manifest{Name: "my-app"},
				Data:     &fetch.PackageData{Locator: rootLocator, Kind: fetch.PackageDataLocal, LocalPath: root},
				Kind:     linker.LinkSoft,
				Dependencies: []linker.Edge{
					{Alias: mustIdent(t, "left-pad"), Locator: leftPadLocator},
				},
			},
			leftPadLocator: {
				Locator:  leftPadLocator,
				Manifest: &manifest.Manifest{Name: "left-pad", Version: "1.3.0"},
				Data:     &fetch.PackageData{Locator: leftPadLocator, Kind: fetch.PackageDataZip, ArchivePath: zipPath},
				Kind:     linker.LinkHard,
			},
		},
	}

	l := nodemodules.Linker{}
	result, err := l.Link(context.Background(), install)
	require.NoError(t, err)
	require.NotNil(t, result)

	data, err := os.ReadFile(filepath.Join(root, "node_modules", "left-pad", "package.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "left-pad")

	_, err = os.Stat(filepath.Join(root, "node_modules", "left-pad", ".ready"))
	require.NoError(t, err)
}

func TestLinkNestsConflictingTransitiveVersion(t *testing.T) {
	root := t.TempDir()

	rootDesc := mustDescriptor(t, "my-app@workspace:.")
	rootLocator := mustLocator(t, "my-app@workspace:.")
	aLocator := mustLocator(t, "dep-a@npm:1.0.0")
	leftPadV1 := mustLocator(t, "left-pad@npm:1.0.0")
	leftPadV2 := mustLocator(t, "left-pad@npm:2.0.0")

	zipA := writeZip(t, "dep-a", "1.0.0")
	zipV1 := writeZip(t, "left-pad", "1.0.0")
	zipV2 := writeZip(t, "left-pad", "2.0.0")

	install := &linker.Install{
		ProjectRoot: root,
		Roots:       []protocol.Descriptor{rootDesc},
		Tree: &resolve.Tree{
			Roots:               []protocol.Descriptor{rootDesc},
			DescriptorToLocator: map[protocol.Descriptor]protocol.Locator{rootDesc: rootLocator},
		},
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {
				Locator: rootLocator,
				Data:    &fetch.PackageData{Locator: rootLocator, Kind: fetch.PackageDataLocal, LocalPath: root},
				Kind:    linker.LinkSoft,
				Dependencies: []linker.Edge{
					{Alias: mustIdent(t, "dep-a"), Locator: aLocator},
					{Alias: mustIdent(t, "left-pad"), Locator: leftPadV2},
				},
			},
			aLocator: {
				Locator: aLocator,
				Data:    &fetch.PackageData{Locator: aLocator, Kind: fetch.PackageDataZip, ArchivePath: zipA},
				Kind:    linker.LinkHard,
				Dependencies: []linker.Edge{
					{Alias: mustIdent(t, "left-pad"), Locator: leftPadV1},
				},
			},
			leftPadV1: {
				Locator: leftPadV1,
				Data:    &fetch.PackageData{Locator: leftPadV1, Kind: fetch.PackageDataZip, ArchivePath: zipV1},
				Kind:    linker.LinkHard,
			},
			leftPadV2: {
				Locator: leftPadV2,
				Data:    &fetch.PackageData{Locator: leftPadV2, Kind: fetch.PackageDataZip, ArchivePath: zipV2},
				Kind:    linker.LinkHard,
			},
		},
	}

	l := nodemodules.Linker{}
	_, err := l.Link(context.Background(), install)
	require.NoError(t, err)

	rootPad, err := os.ReadFile(filepath.Join(root, "node_modules", "left-pad", "package.json"))
	require.NoError(t, err)
	require.Contains(t, string(rootPad), "2.0.0")

	nestedPad, err := os.ReadFile(filepath.Join(root, "node_modules", "dep-a", "node_modules", "left-pad", "package.json"))
	require.NoError(t, err)
	require.Contains(t, string(nestedPad), "1.0.0")
}
