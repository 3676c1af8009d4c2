package build_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zpmjs/zpm/internal/build"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/protocol"
)

var errScriptFailed = errors.New("script failed")

type recordingRunner struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]bool
}

func (r *recordingRunner) RunScript(ctx context.Context, cwd string, locator protocol.Locator, script string) error {
	r.mu.Lock()
	r.ran = append(r.ran, locator.String()+":"+script)
	shouldFail := r.fail[locator.String()]
	r.mu.Unlock()

	if shouldFail {
		return errScriptFailed
	}
	return nil
}

func mustLocator(t *testing.T, raw string) protocol.Locator {
	t.Helper()
	l, err := protocol.ParseLocator(raw)
	require.NoError(t, err)
	return l
}

func TestRunBuildsInDependencyOrderAndPersistsState(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "build-state.json")

	depLocator := mustLocator(t, "dep-a@npm:1.0.0")
	rootLocator := mustLocator(t, "my-app@workspace:.")

	install := &linker.Install{
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {
				Locator:      rootLocator,
				Dependencies: []linker.Edge{{Locator: depLocator}},
			},
			depLocator: {Locator: depLocator},
		},
	}

	plan := linker.BuildPlan{
		Entries: []linker.BuildRequest{
			{Cwd: filepath.Join(dir, "dep-a"), Locator: depLocator, Commands: []string{"install"}},
			{Cwd: filepath.Join(dir, "my-app"), Locator: rootLocator, Commands: []string{"install"}},
		},
		Dependencies: map[int]map[int]struct{}{
			1: {0: {}},
		},
	}

	runner := &recordingRunner{fail: map[string]bool{}}
	mgr := &build.Manager{Plan: plan, Install: install, Runner: runner, StatePath: statePath}

	result, err := mgr.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, runner.ran, 2)
	require.Equal(t, depLocator.String()+":install", runner.ran[0])
	require.Equal(t, rootLocator.String()+":install", runner.ran[1])

	raw, err := os.ReadFile(statePath)
	require.NoError(t, err)
	state := map[string]string{}
	require.NoError(t, json.Unmarshal(raw, &state))
	require.Len(t, state, 2)
}

func TestRunSkipsEntryWithUnchangedTreeHash(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "build-state.json")

	locator := mustLocator(t, "left-pad@npm:1.3.0")
	install := &linker.Install{
		Packages: map[protocol.Locator]*linker.Package{
			locator: {Locator: locator},
		},
	}
	plan := linker.BuildPlan{
		Entries: []linker.BuildRequest{
			{Cwd: filepath.Join(dir, "left-pad"), Locator: locator, Commands: []string{"install"}},
		},
	}

	runner := &recordingRunner{fail: map[string]bool{}}
	first := &build.Manager{Plan: plan, Install: install, Runner: runner, StatePath: statePath}
	_, err := first.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.ran, 1)

	second := &build.Manager{Plan: plan, Install: install, Runner: runner, StatePath: statePath}
	_, err = second.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.ran, 1, "second run should skip the already-built entry")
}

func TestRunRecordsFailureAndBlocksDependents(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "build-state.json")

	depLocator := mustLocator(t, "dep-a@npm:1.0.0")
	rootLocator := mustLocator(t, "my-app@workspace:.")

	install := &linker.Install{
		Packages: map[protocol.Locator]*linker.Package{
			rootLocator: {
				Locator:      rootLocator,
				Dependencies: []linker.Edge{{Locator: depLocator}},
			},
			depLocator: {Locator: depLocator},
		},
	}
	plan := linker.BuildPlan{
		Entries: []linker.BuildRequest{
			{Cwd: filepath.Join(dir, "dep-a"), Locator: depLocator, Commands: []string{"install"}},
			{Cwd: filepath.Join(dir, "my-app"), Locator: rootLocator, Commands: []string{"install"}},
		},
		Dependencies: map[int]map[int]struct{}{
			1: {0: {}},
		},
	}

	runner := &recordingRunner{fail: map[string]bool{depLocator.String(): true}}
	mgr := &build.Manager{Plan: plan, Install: install, Runner: runner, StatePath: statePath}

	result, err := mgr.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Equal(t, depLocator, result.Errors[0].Locator)
	require.Len(t, runner.ran, 1, "the dependent build should never be scheduled")
}

func TestRunAllowedToFailEntryDoesNotRecordError(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "build-state.json")
	locator := mustLocator(t, "optional-dep@npm:1.0.0")

	install := &linker.Install{
		Packages: map[protocol.Locator]*linker.Package{locator: {Locator: locator}},
	}
	plan := linker.BuildPlan{
		Entries: []linker.BuildRequest{
			{Cwd: dir, Locator: locator, Commands: []string{"install"}, AllowedToFail: true},
		},
	}

	runner := &recordingRunner{fail: map[string]bool{locator.String(): true}}
	mgr := &build.Manager{Plan: plan, Install: install, Runner: runner, StatePath: statePath}

	result, err := mgr.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Errors)
}
