package pnpmstore_test

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
	"github.com/zpmjs/zpm/internal/linker/pnpmstore"
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

func mustIdent(t *testing.T, raw string) ident.Ident {
	t.Helper()
	id, err := ident.Parse(raw)
	require.NoError(t, err)
	return id
}

func TestLinkExtractsAndSymlinksDependency(t *testing.T) {
	root := t.TempDir()

	rootLocator := mustLocator(t, "my-app@workspace:.")
	leftPadLocator := mustLocator(t, "left-pad@npm:1.3.0")

	zipBytes, err := archive.WriteZip([]archive.Entry{
		archive.NewEntry("package.json", 0o644, []byte(`{"name":"left-pad","version":"1.3.0"}`)),
		archive.NewEntry("index.js", 0o644, []byte("module.exports = function(){}")),
	})
	require.NoError(t, err)
	zipPath := filepath.Join(root, "left-pad.zip")
	require.NoError(t, os.WriteFile(zipPath, zipBytes, 0o644))

	install := &linker.Install{
		ProjectRoot: root,
		Tree:        &resolve.Tree{},
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

	l := pnpmstore.Linker{}
	result, err := l.Link(context.Background(), install)
	require.NoError(t, err)
	require.NotNil(t, result)

	linkPath := filepath.Join(root, "node_modules", "left-pad")
	info, err := os.Lstat(linkPath)
	require.NoError(t, err)
	require.True(t, info.Mode()&os.ModeSymlink != 0)

	target, err := filepath.EvalSymlinks(linkPath)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(target, "package.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "left-pad")
}
