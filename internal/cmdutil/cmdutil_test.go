package cmdutil

import (
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func newTestFlags(t *testing.T) (*pflag.FlagSet, *Helper) {
	t.Helper()
	// Point XDG_CONFIG_HOME somewhere empty so the test never reads a
	// developer's real ~/.config/zpm/config.json.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	flags := pflag.NewFlagSet("test-flags", pflag.ContinueOnError)
	h := NewHelper("test-version")
	h.AddFlags(flags)
	return flags, h
}

func TestGetCmdBaseFlagsOverrideUserConfig(t *testing.T) {
	flags, h := newTestFlags(t)
	cwd := t.TempDir()

	require.NoError(t, flags.Set("cwd", cwd))
	require.NoError(t, flags.Set("registry", "https://registry.example.com"))
	require.NoError(t, flags.Set("token", "my-token"))

	base, err := h.GetCmdBase(flags)
	require.NoError(t, err)

	require.Equal(t, "https://registry.example.com", base.RegistryURL)
	require.Equal(t, "my-token", base.AuthToken)

	resolvedCwd, err := filepath.EvalSymlinks(cwd)
	require.NoError(t, err)
	require.Equal(t, resolvedCwd, base.ProjectRoot)
}

func TestGetCmdBaseDefaultsCacheDirUnderProjectRoot(t *testing.T) {
	flags, h := newTestFlags(t)
	cwd := t.TempDir()
	require.NoError(t, flags.Set("cwd", cwd))

	base, err := h.GetCmdBase(flags)
	require.NoError(t, err)

	require.NotNil(t, base.Cache)
	require.DirExists(t, filepath.Join(base.ProjectRoot, "node_modules", ".cache", "zpm"))
	require.Equal(t, base.ProjectRoot, base.FetchEnv.ProjectRoot)
}

func TestGetCmdBaseConcurrencyFlag(t *testing.T) {
	flags, h := newTestFlags(t)
	require.NoError(t, flags.Set("cwd", t.TempDir()))
	require.NoError(t, flags.Set("concurrency", "8"))

	base, err := h.GetCmdBase(flags)
	require.NoError(t, err)
	require.Equal(t, 8, base.Concurrency)
}

func TestCleanupRunsRegisteredClosers(t *testing.T) {
	flags, h := newTestFlags(t)

	ran := false
	h.RegisterCleanup(closerFunc(func() error {
		ran = true
		return nil
	}))
	h.Cleanup(flags)
	require.True(t, ran)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
