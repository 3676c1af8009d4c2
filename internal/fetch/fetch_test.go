package fetch_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/cache"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/protocol"
)

func newTestEnv(t *testing.T, registryURL string) *fetch.Env {
	t.Helper()
	c, err := cache.New(t.TempDir(), "", false, false)
	require.NoError(t, err)
	env := fetch.NewEnv(c, registryURL, hclog.NewNullLogger())
	env.ProjectRoot = t.TempDir()
	return env
}

// gzippedTarball builds a tarball with the registry's own "package/"
// wrapper convention: one top-level directory holding the given files.
func gzippedTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, body := range files {
		hdr := &tar.Header{
			Name: "package/" + name,
			Mode: 0644,
			Size: int64(len(body)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return gzBuf.Bytes()
}

func mustLocator(t *testing.T, raw string) protocol.Locator {
	t.Helper()
	l, err := protocol.ParseLocator(raw)
	require.NoError(t, err)
	return l
}

func TestRegistryFetcherBundlesTarball(t *testing.T) {
	tgz := gzippedTarball(t, map[string]string{
		"package.json": `{"name":"left-pad","version":"1.3.0"}`,
		"index.js":     "module.exports = function() {}",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/left-pad/-/left-pad-1.3.0.tgz", r.URL.Path)
		w.Write(tgz)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "left-pad@npm:1.3.0")
	pd, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, fetch.PackageDataZip, pd.Kind)
	assert.NotEmpty(t, pd.Checksum)
	assert.FileExists(t, pd.ArchivePath)

	man, err := reg.FetchManifest(context.Background(), locator)
	require.NoError(t, err)
	assert.Equal(t, "left-pad", man.Name)
	assert.Equal(t, "1.3.0", man.Version)
}

func TestRegistryFetcherScopedName(t *testing.T) {
	tgz := gzippedTarball(t, map[string]string{
		"package.json": `{"name":"@types/node","version":"18.0.0"}`,
	})

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write(tgz)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "@types/node@npm:18.0.0")
	_, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, "/@types/node/-/node-18.0.0.tgz", gotPath)
}

func TestRegistryFetcherUnexpectedStatusIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL)
	env.HTTPClient.RetryMax = 0
	reg := fetch.NewRegistry(env)

	_, err := reg.Fetch(context.Background(), mustLocator(t, "missing@npm:1.0.0"), nil)
	require.Error(t, err)
}

func TestUrlFetcherBundlesTarball(t *testing.T) {
	tgz := gzippedTarball(t, map[string]string{
		"package.json": `{"name":"from-url","version":"0.0.1"}`,
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tgz)
	}))
	defer srv.Close()

	env := newTestEnv(t, "")
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "from-url@"+srv.URL+"/pkg.tgz")
	pd, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, fetch.PackageDataZip, pd.Kind)
}

func TestLinkFetcherProducesLocalPath(t *testing.T) {
	env := newTestEnv(t, "")
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "sibling@link:../sibling")
	pd, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, fetch.PackageDataLocal, pd.Kind)
	assert.Equal(t, filepath.Join(env.ProjectRoot, "../sibling"), pd.LocalPath)
}

func TestWorkspaceFetcherLooksUpRegisteredMember(t *testing.T) {
	env := newTestEnv(t, "")
	pkgID, err := ident.Parse("pkg-a")
	require.NoError(t, err)
	env.Workspaces[pkgID] = "/workspace/packages/pkg-a"
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "pkg-a@workspace:pkg-a")
	pd, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, "/workspace/packages/pkg-a", pd.LocalPath)
}

func TestWorkspaceFetcherMissingMemberErrors(t *testing.T) {
	env := newTestEnv(t, "")
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "missing@workspace:missing")
	_, err := reg.Fetch(context.Background(), locator, nil)
	require.Error(t, err)
	assert.IsType(t, &fetch.WorkspaceMissError{}, err)
}

func TestBuiltinFetcherServesEmbeddedBytes(t *testing.T) {
	env := newTestEnv(t, "")
	id, err := ident.Parse("zpm-builtin")
	require.NoError(t, err)
	env.Builtins[id] = []byte("raw-builtin-zip-bytes")
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "zpm-builtin@builtin:1.0.0")
	pd, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, fetch.PackageDataZip, pd.Kind)
	data, err := os.ReadFile(pd.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, "raw-builtin-zip-bytes", string(data))
}

func TestBuiltinFetcherMissingIdentErrors(t *testing.T) {
	env := newTestEnv(t, "")
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "nope@builtin:1.0.0")
	_, err := reg.Fetch(context.Background(), locator, nil)
	require.Error(t, err)
	assert.IsType(t, &fetch.BuiltinMissError{}, err)
}

func TestTarballFetcherRequiresParent(t *testing.T) {
	env := newTestEnv(t, "")
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "inner@file:./vendor.tgz")
	_, err := reg.Fetch(context.Background(), locator, nil)
	require.Error(t, err)
	assert.IsType(t, &fetch.MissingParentError{}, err)
}

func TestFolderFetcherResolvesParentFromLocatorText(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "packages", "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "packages", "sub", "package.json"), []byte(`{"name":"sub","version":"2.0.0"}`), 0644))

	env := newTestEnv(t, "")
	env.ProjectRoot = root
	reg := fetch.NewRegistry(env)

	rootID, err := ident.Parse("root")
	require.NoError(t, err)
	rootLocator := protocol.NewLocator(rootID, protocol.Reference{Kind: protocol.ReferenceLink, Path: "."}, nil)

	subID, err := ident.Parse("sub")
	require.NoError(t, err)
	subLocator := protocol.NewLocator(subID, protocol.Reference{Kind: protocol.ReferenceFolder, Path: "./packages/sub"}, &rootLocator)
	require.NotEmpty(t, subLocator.Parent)

	// FetchManifest only ever receives a bare locator; it must resolve
	// subLocator.Parent itself to satisfy the Folder reference.
	man, err := reg.FetchManifest(context.Background(), subLocator)
	require.NoError(t, err)
	assert.Equal(t, "sub", man.Name)
	assert.Equal(t, "2.0.0", man.Version)
}

// gitStub writes an executable shell script standing in for the git
// binary: ls-remote reports a fixed sha, clone makes an empty
// directory, and checkout drops a package.json into it. This keeps
// the test off the network while still exercising the real
// ls-remote/clone/checkout sequence GitFetcher drives.
func gitStub(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "git")
	script := `#!/bin/sh
case "$1" in
  ls-remote)
    echo "0123456789abcdef0123456789abcdef01234567	refs/heads/main"
    ;;
  clone)
    shift 4
    mkdir -p "$1"
    ;;
  checkout)
    printf '{"name":"git-pkg","version":"9.9.9"}' > package.json
    ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestGitFetcherClonesAndChecksOutNonGithubRemote(t *testing.T) {
	env := newTestEnv(t, "")
	env.GitBin = gitStub(t)
	reg := fetch.NewRegistry(env)

	locator := mustLocator(t, "git-pkg@git+https://example.com/acme/git-pkg.git#main")
	pd, err := reg.Fetch(context.Background(), locator, nil)
	require.NoError(t, err)
	assert.Equal(t, fetch.PackageDataZip, pd.Kind)

	man, err := reg.FetchManifest(context.Background(), locator)
	require.NoError(t, err)
	assert.Equal(t, "git-pkg", man.Name)
	assert.Equal(t, "9.9.9", man.Version)
}
