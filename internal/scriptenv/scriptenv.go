// Package scriptenv composes the child-process environment a build
// script or `bin` launcher runs under: seeded npm_*
// variables, a scratch directory of per-binary wrappers prepended to
// PATH, and a NODE_OPTIONS that wires up the PnP runtime files when
// present. Runner.RunScript implements internal/build.Runner so a
// Manager can drive it directly.
package scriptenv

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Environment is one locator's composed child-process context: its
// working directory, full environment (inherited os.Environ() plus
// the seeded/overridden variables below), and the scratch directory
// its PATH entry points at.
type Environment struct {
	Cwd        string
	Vars       []string
	ScratchDir string
}

// Locations maps every locator reachable from an install to the
// absolute directory holding its materialized package.json — however
// the linker that ran placed it (a node_modules directory, a pnpm store
// slot, an unplugged PnP directory). scriptenv doesn't care which
// linker produced it; it only needs a place to resolve `bin` entries
// from for the locator itself and its direct dependencies.
type Locations map[protocol.Locator]string

// Composer builds a script Environment for a given package, reusing
// one scratch-directory cache across the whole install.
type Composer struct {
	Install   *linker.Install
	Locations Locations

	// ScratchRoot is the parent of every per-locator scratch
	// directory; defaults to os.TempDir() ("/tmp" on Unix, the exact
	// parent names).
	ScratchRoot string
}

func (c *Composer) scratchRoot() string {
	if c.ScratchRoot != "" {
		return c.ScratchRoot
	}
	return os.TempDir()
}

// Compose builds cwd's script environment for locator: seeds the
// npm_package_* and *_CWD variables, materializes (or reuses) the
// binary-wrapper scratch directory, and prepends it to PATH; NODE_OPTIONS
// picks up --require/--experimental-loader for the project's PnP
// runtime files when they exist.
func (c *Composer) Compose(cwd string, locator protocol.Locator) (*Environment, error) {
	pkg := c.Install.Packages[locator]
	if pkg == nil {
		return nil, errors.Errorf("scriptenv: no package known for %s", locator)
	}

	bins := visibleBinaries(c.Install, c.Locations, locator, pkg)

	scratchDir, err := c.ensureScratchDir(locator, bins)
	if err != nil {
		return nil, err
	}

	vars := map[string]string{}
	for _, kv := range os.Environ() {
		if i := indexByte(kv, '='); i >= 0 {
			vars[kv[:i]] = kv[i+1:]
		}
	}

	name, version := "", ""
	if pkg.Manifest != nil {
		name, version = pkg.Manifest.Name, pkg.Manifest.Version
	}
	vars["npm_package_name"] = name
	vars["npm_package_version"] = version
	vars["npm_package_json"] = filepath.Join(cwd, "package.json")
	vars["PROJECT_CWD"] = c.Install.ProjectRoot
	vars["INIT_CWD"] = c.Install.ProjectRoot

	vars["PATH"] = scratchDir + string(os.PathListSeparator) + vars["PATH"]
	vars["NODE_OPTIONS"] = composeNodeOptions(vars["NODE_OPTIONS"], c.Install.ProjectRoot)

	return &Environment{Cwd: cwd, Vars: mapToEnviron(vars), ScratchDir: scratchDir}, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func mapToEnviron(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// composeNodeOptions appends --require/--experimental-loader flags
// for .pnp.cjs/.pnp.loader.mjs when those files exist at the project
// root, preserving whatever NODE_OPTIONS the parent process already
// set.
func composeNodeOptions(existing, projectRoot string) string {
	out := existing

	pnpCjs := filepath.Join(projectRoot, ".pnp.cjs")
	if _, err := os.Stat(pnpCjs); err == nil {
		out = appendOption(out, "--require "+pnpCjs)
	}

	pnpLoader := filepath.Join(projectRoot, ".pnp.loader.mjs")
	if _, err := os.Stat(pnpLoader); err == nil {
		out = appendOption(out, "--experimental-loader "+pnpLoader)
	}

	return out
}

func appendOption(existing, option string) string {
	if existing == "" {
		return option
	}
	return existing + " " + option
}

// binEntry is one named binary this package's script environment
// exposes: the absolute path to its JS/executable target and whether
// that target should be invoked through `node`.
type binEntry struct {
	name   string
	target string
	isJS   bool
}

// visibleBinaries enumerates locator's own binaries plus its direct
// dependencies', resolved against Locations. A dependency whose
// placement directory is unknown (Locations has no entry for it)
// contributes no binaries rather than failing the whole compose —
// matching framing of this as a best-effort PATH
// convenience, not a correctness-critical step.
func visibleBinaries(install *linker.Install, locations Locations, locator protocol.Locator, pkg *linker.Package) []binEntry {
	var entries []binEntry

	add := func(owner protocol.Locator, man *linker.Package) {
		if man == nil || man.Manifest == nil {
			return
		}
		dir, ok := locations[owner]
		if !ok {
			return
		}
		for name, rel := range man.Manifest.Bin.Resolve(owner.Ident) {
			target := filepath.Join(dir, filepath.FromSlash(rel))
			entries = append(entries, binEntry{name: name, target: target, isJS: isJSFile(target)})
		}
	}

	add(locator, pkg)
	for _, edge := range pkg.Dependencies {
		add(edge.Locator, install.Packages[edge.Locator])
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries
}

func isJSFile(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".mjs", ".cjs":
		return true
	default:
		return false
	}
}

// ensureScratchDir materializes locator's wrapper directory under
// ScratchRoot, named "zpm-<slug>-<hash>"; a directory already carrying
// a ".ready" marker is reused as-is, since its name already encodes
// the exact binary set that produced it.
func (c *Composer) ensureScratchDir(locator protocol.Locator, bins []binEntry) (string, error) {
	slug := linker.LocatorSlug(locator.Ident.String(), locator.String())
	hash := hashBinaries(bins)
	dir := filepath.Join(c.scratchRoot(), fmt.Sprintf("zpm-%s-%s", slug, hash))

	readyPath := filepath.Join(dir, ".ready")
	if _, err := os.Stat(readyPath); err == nil {
		return dir, nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", errors.Wrapf(err, "scriptenv: clearing stale scratch dir %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "scriptenv: creating scratch dir %s", dir)
	}

	for _, b := range bins {
		if err := writeWrapper(dir, b); err != nil {
			return "", err
		}
	}

	if err := os.WriteFile(readyPath, nil, 0o644); err != nil {
		return "", errors.Wrapf(err, "scriptenv: marking %s ready", dir)
	}
	return dir, nil
}

func hashBinaries(bins []binEntry) string {
	h := sha256.New()
	for _, b := range bins {
		fmt.Fprintf(h, "%s\x00%s\x00%v\n", b.name, b.target, b.isJS)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
