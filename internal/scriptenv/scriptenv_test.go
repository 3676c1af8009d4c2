package scriptenv_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/scriptenv"
)

func mustLocator(t *testing.T, raw string) protocol.Locator {
	t.Helper()
	l, err := protocol.ParseLocator(raw)
	require.NoError(t, err)
	return l
}

func TestComposeSeedsManifestAndCwdVariables(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("wrapper scripts are POSIX shell in this test")
	}

	root := t.TempDir()
	rootDesc, err := protocol.ParseDescriptor("my-app@workspace:.")
	require.NoError(t, err)
	rootLocator := mustLocator(t, "my-app@workspace:.")

	install := &linker.Install{
		ProjectRoot: root,
		Roots:       []protocol.Descriptor{rootDesc},
		Tree:        &resolve.Tree{Roots: []protocol.Descriptor{rootDesc}},
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {
				Locator:  rootLocator,
				Manifest: &manifest.Manifest{Name: "my-app", Version: "1.0.0"},
			},
		},
	}

	scratchRoot := t.TempDir()
	composer := &scriptenv.Composer{Install: install, ScratchRoot: scratchRoot}

	env, err := composer.Compose(root, rootLocator)
	require.NoError(t, err)

	vars := toMap(env.Vars)
	require.Equal(t, "my-app", vars["npm_package_name"])
	require.Equal(t, "1.0.0", vars["npm_package_version"])
	require.Equal(t, filepath.Join(root, "package.json"), vars["npm_package_json"])
	require.Equal(t, root, vars["PROJECT_CWD"])
	require.Equal(t, root, vars["INIT_CWD"])
	require.True(t, strings.HasPrefix(vars["PATH"], env.ScratchDir+string(os.PathListSeparator)))

	_, err = os.Stat(filepath.Join(env.ScratchDir, ".ready"))
	require.NoError(t, err)
}

func TestComposeWritesBinWrapperForOwnAndDependencyBinaries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("wrapper scripts are POSIX shell in this test")
	}

	root := t.TempDir()
	depDir := t.TempDir()

	rootDesc, err := protocol.ParseDescriptor("my-app@workspace:.")
	require.NoError(t, err)
	rootLocator := mustLocator(t, "my-app@workspace:.")
	depLocator := mustLocator(t, "cli-tool@npm:1.0.0")

	install := &linker.Install{
		ProjectRoot: root,
		Roots:       []protocol.Descriptor{rootDesc},
		Tree:        &resolve.Tree{Roots: []protocol.Descriptor{rootDesc}},
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {
				Locator:  rootLocator,
				Manifest: &manifest.Manifest{Name: "my-app"},
				Dependencies: []linker.Edge{
					{Alias: mustIdent(t, "cli-tool"), Locator: depLocator},
				},
			},
			depLocator: {
				Locator:  depLocator,
				Manifest: &manifest.Manifest{Name: "cli-tool", Bin: manifest.Bin{Single: "./bin/cli.js"}},
			},
		},
	}

	locations := scriptenv.Locations{depLocator: depDir}
	scratchRoot := t.TempDir()
	composer := &scriptenv.Composer{Install: install, Locations: locations, ScratchRoot: scratchRoot}

	env, err := composer.Compose(root, rootLocator)
	require.NoError(t, err)

	wrapperPath := filepath.Join(env.ScratchDir, "cli-tool")
	data, err := os.ReadFile(wrapperPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "node")
	require.Contains(t, string(data), filepath.Join(depDir, "bin", "cli.js"))

	info, err := os.Stat(wrapperPath)
	require.NoError(t, err)
	require.True(t, info.Mode()&0o111 != 0, "wrapper should be executable")
}

func TestRunScriptExecutesUnderComposedEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires bash")
	}
	if _, err := os.Stat("/bin/bash"); err != nil {
		t.Skip("no bash available")
	}

	root := t.TempDir()
	rootDesc, err := protocol.ParseDescriptor("my-app@workspace:.")
	require.NoError(t, err)
	rootLocator := mustLocator(t, "my-app@workspace:.")

	install := &linker.Install{
		ProjectRoot: root,
		Roots:       []protocol.Descriptor{rootDesc},
		Tree:        &resolve.Tree{Roots: []protocol.Descriptor{rootDesc}},
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {Locator: rootLocator, Manifest: &manifest.Manifest{Name: "my-app"}},
		},
	}

	composer := &scriptenv.Composer{Install: install, ScratchRoot: t.TempDir()}
	runner := &scriptenv.Runner{Composer: composer}

	marker := filepath.Join(root, "ran.txt")
	err = runner.RunScript(context.Background(), root, rootLocator, "echo -n \"$npm_package_name\" > "+marker)
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, "my-app", string(data))
}

func mustIdent(t *testing.T, raw string) ident.Ident {
	t.Helper()
	id, err := ident.Parse(raw)
	require.NoError(t, err)
	return id
}

func toMap(vars []string) map[string]string {
	out := map[string]string{}
	for _, kv := range vars {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}
