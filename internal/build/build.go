// Package build implements a build scheduler: it walks the
// linker's BuildPlan in topological order, skipping any entry whose
// dependency-closure hash matches the last recorded one, and persisting
// the updated hash map after every change. Entries become ready as
// their dependencies finish and run concurrently up to Concurrency,
// dispatched over a goroutine-and-channel loop. The entries themselves
// are validated as a DAG with pyr-sh/dag before scheduling starts;
// dependency-closure hashing tolerates ordinary cycles elsewhere in the
// install with its own in-package tree-hash walk.
package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/protocol"
)

// defaultConcurrency caps the number of build entries running at once
// when a caller doesn't specify one.
const defaultConcurrency = 5

// Runner executes one lifecycle script of one build entry inside a
// composed script environment (internal/scriptenv implements this for
// the real CLI). Returning a non-nil error fails the entry unless the
// entry is AllowedToFail.
type Runner interface {
	RunScript(ctx context.Context, cwd string, locator protocol.Locator, script string) error
}

// BuildError records one entry that failed and was not allowed to.
type BuildError struct {
	Locator protocol.Locator
	Cwd     string
	Err     error
}

// Result is what a finished Run hands back: every entry that failed.
// An empty Errors slice means every entry either built successfully or
// was skipped because its tree hash was unchanged.
type Result struct {
	Errors []BuildError
}

// Manager runs a single BuildPlan to completion against an Install's
// dependency graph (used to compute tree hashes) and a persisted
// build-state file (used to skip unchanged entries).
type Manager struct {
	Plan        linker.BuildPlan
	Install     *linker.Install
	Runner      Runner
	StatePath   string
	Concurrency int
}

func (m *Manager) concurrency() int {
	if m.Concurrency > 0 {
		return m.Concurrency
	}
	return defaultConcurrency
}

// Run executes every entry in dependency order, launching up to
// Concurrency builds at a time, and returns once the plan is either
// fully built or has drained after a cancellation.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	unlock, err := m.lockState()
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries := m.Plan.Entries

	if err := validateEntryGraph(entries, m.Plan.Dependencies); err != nil {
		return nil, err
	}

	remaining := map[int]map[int]struct{}{}
	dependents := map[int][]int{}
	for idx, deps := range m.Plan.Dependencies {
		set := map[int]struct{}{}
		for d := range deps {
			set[d] = struct{}{}
			dependents[d] = append(dependents[d], idx)
		}
		remaining[idx] = set
	}

	pathsToBuild := map[string]struct{}{}
	for _, e := range entries {
		pathsToBuild[e.Cwd] = struct{}{}
	}

	stateIn, err := m.loadState()
	if err != nil {
		return nil, err
	}

	stateOut := map[string]string{}
	for cwd, hash := range stateIn {
		if _, ok := pathsToBuild[cwd]; ok {
			stateOut[cwd] = hash
		}
	}

	hashes := map[protocol.Locator]string{}

	var queue []int
	for idx := range entries {
		if len(remaining[idx]) == 0 {
			queue = append(queue, idx)
		}
	}

	type outcome struct {
		idx int
		err error
	}

	var buildErrors []BuildError
	running := 0
	results := make(chan outcome)
	canceled := false

	// record: a failed entry is only noted in buildErrors, its
	// dependents are never unblocked, so that branch of the plan simply
	// never builds rather than being force-queued over a broken
	// dependency.
	record := func(idx int, hash string, known bool, err error) {
		entry := entries[idx]
		if err != nil {
			buildErrors = append(buildErrors, BuildError{Locator: entry.Locator, Cwd: entry.Cwd, Err: err})
			return
		}

		if known {
			stateOut[entry.Cwd] = hash
		}
		for _, dependent := range dependents[idx] {
			set := remaining[dependent]
			delete(set, idx)
			if len(set) == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	trigger := func() error {
		for !canceled && running < m.concurrency() && len(queue) > 0 {
			if ctx.Err() != nil {
				canceled = true
				break
			}

			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			entry := entries[idx]

			hash, known := treeHash(m.Install, hashes, entry.Locator)

			if known && !entry.ForceRebuild && hash != "" && stateIn[entry.Cwd] == hash {
				record(idx, hash, true, nil)
				continue
			}

			delete(stateOut, entry.Cwd)
			running++

			go func(idx int, entry linker.BuildRequest) {
				err := runEntry(ctx, m.Runner, entry)
				results <- outcome{idx: idx, err: err}
			}(idx, entry)
		}
		return m.persistState(stateOut)
	}

	if err := trigger(); err != nil {
		return nil, err
	}

	for running > 0 {
		out := <-results
		running--

		entry := entries[out.idx]
		hash, known := hashes[entry.Locator]
		record(out.idx, hash, known, out.err)

		if err := m.persistState(stateOut); err != nil {
			return nil, err
		}
		if err := trigger(); err != nil {
			return nil, err
		}
	}

	if canceled {
		return nil, ctx.Err()
	}
	return &Result{Errors: buildErrors}, nil
}

// runEntry runs an entry's commands in order, stopping at the first
// failure; a failure on an AllowedToFail entry is swallowed instead of
// propagated.
func runEntry(ctx context.Context, runner Runner, entry linker.BuildRequest) error {
	for _, script := range entry.Commands {
		if err := runner.RunScript(ctx, entry.Cwd, entry.Locator, script); err != nil {
			if entry.AllowedToFail {
				return nil
			}
			return err
		}
	}
	return nil
}

// lockState guards the build-state file against two concurrent
// installs in the same project stepping on each other's writes,
// the way daemon guards its own PID file with the same
// library. A stale lock left by a dead process is reclaimed rather
// than treated as a hard failure.
func (m *Manager) lockState() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(m.StatePath), 0o755); err != nil {
		return nil, errors.Wrapf(err, "build: creating directory for %q", m.StatePath)
	}

	lock, err := lockfile.New(m.StatePath + ".lock")
	if err != nil {
		return nil, errors.Wrapf(err, "build: creating lock for %q", m.StatePath)
	}

	if err := lock.TryLock(); err != nil {
		if errors.Is(err, lockfile.ErrDeadOwner) {
			if err := lock.TryLock(); err != nil {
				return nil, errors.Wrapf(err, "build: reclaiming stale lock for %q", m.StatePath)
			}
		} else {
			return nil, errors.Wrapf(err, "build: another install is already running against %q", m.StatePath)
		}
	}

	return func() { _ = lock.Unlock() }, nil
}

func (m *Manager) loadState() (map[string]string, error) {
	raw, err := os.ReadFile(m.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrapf(err, "build: reading state %q", m.StatePath)
	}
	state := map[string]string{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errors.Wrapf(err, "build: decoding state %q", m.StatePath)
	}
	return state, nil
}

// persistState rewrites the build-state file atomically (write to a
// temp file, then rename) so a concurrent reader never observes a
// partially written state file.
func (m *Manager) persistState(state map[string]string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "build: encoding state")
	}
	if err := os.MkdirAll(filepath.Dir(m.StatePath), 0o755); err != nil {
		return errors.Wrapf(err, "build: creating directory for %q", m.StatePath)
	}
	tmp := filepath.Join(filepath.Dir(m.StatePath), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "build: staging %q", tmp)
	}
	if err := os.Rename(tmp, m.StatePath); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "build: renaming %q into place", m.StatePath)
	}
	return nil
}

// treeHash computes locator's dependency-closure hash, memoizing every
// node visited along the way. It returns ok=false when locator is
// itself part of a cycle: the caller treats that as "hash unknown".
func treeHash(install *linker.Install, memo map[protocol.Locator]string, locator protocol.Locator) (string, bool) {
	if h, ok := memo[locator]; ok {
		return h, true
	}

	var order []protocol.Locator
	inCycle := map[protocol.Locator]struct{}{}
	visiting := map[protocol.Locator]bool{}
	visited := map[protocol.Locator]bool{}
	var stack []protocol.Locator

	var dfs func(node protocol.Locator)
	dfs = func(node protocol.Locator) {
		if visiting[node] {
			pos := -1
			for i, n := range stack {
				if n == node {
					pos = i
					break
				}
			}
			if pos >= 0 {
				for _, n := range stack[pos:] {
					inCycle[n] = struct{}{}
				}
			}
			return
		}
		if visited[node] {
			return
		}

		visiting[node] = true
		stack = append(stack, node)

		if pkg := install.Packages[node]; pkg != nil {
			for _, e := range sortedDeps(pkg) {
				dfs(e.Locator)
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		if _, cyc := inCycle[node]; !cyc {
			order = append(order, node)
		}
	}
	dfs(locator)

	for _, n := range order {
		if _, ok := memo[n]; ok {
			continue
		}
		h := sha256.New()
		if pkg := install.Packages[n]; pkg != nil {
			for _, e := range sortedDeps(pkg) {
				h.Write([]byte(memo[e.Locator]))
			}
		}
		memo[n] = hex.EncodeToString(h.Sum(nil))
	}

	h, ok := memo[locator]
	return h, ok
}

func sortedDeps(pkg *linker.Package) []linker.Edge {
	deps := append([]linker.Edge(nil), pkg.Dependencies...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Locator.String() < deps[j].Locator.String() })
	return deps
}
