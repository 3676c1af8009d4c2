// Package nodemodules implements the node_modules linker: a tree
// rooted at the project's node_modules. A root's direct dependencies
// are placed in that top-level node_modules; every other package is
// placed in its consumer's own nested node_modules unless an ancestor
// scope already resolves its ident to the same locator. Nothing is
// moved above its consumer's node_modules. The post-install
// accounting pass walks the resulting tree with godirwalk.
package nodemodules

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/fetch"
	"github.com/zpmjs/zpm/internal/linker"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Linker computes and materializes the node_modules tree.
type Linker struct{}

// placement is one package's directory: inside the node_modules of
// the scope its consumer placed it in.
type placement struct {
	Locator protocol.Locator
	Dir     string
}

// scope is one node_modules directory's visible resolution: idents
// placed directly in it, falling through to its parent for anything
// not locally overridden, mirroring Node's own upward directory walk.
type scope struct {
	dir      string
	resolved map[string]protocol.Locator
	parent   *scope
}

func (s *scope) lookup(name string) (protocol.Locator, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if l, ok := cur.resolved[name]; ok {
			return l, true
		}
	}
	return protocol.Locator{}, false
}

func (l Linker) Link(ctx context.Context, install *linker.Install) (*linker.LinkResult, error) {
	nmPath := filepath.Join(install.ProjectRoot, "node_modules")
	if err := linker.RemoveNodeModules(nmPath); err != nil {
		return nil, errors.Wrap(err, "nodemodules: clearing node_modules")
	}

	root := &scope{dir: nmPath, resolved: map[string]protocol.Locator{}}
	var placements []placement
	processed := map[string]bool{}

	for _, rootLocator := range rootLocators(install) {
		pkg := install.Packages[rootLocator]
		if pkg == nil {
			continue
		}
		if err := placeDependencies(install, pkg, root, &placements, processed); err != nil {
			return nil, err
		}
	}

	locations := map[protocol.Locator]string{}
	var buildEntries []linker.BuildRequest
	for _, p := range placements {
		pkg := install.Packages[p.Locator]
		if err := materialize(pkg, p.Dir); err != nil {
			return nil, err
		}
		locations[p.Locator] = p.Dir

		if commands := linker.BuildCommandsFor(install, p.Locator); len(commands) > 0 {
			buildEntries = append(buildEntries, linker.BuildRequest{
				Cwd:           p.Dir,
				Locator:       p.Locator,
				Commands:      commands,
				AllowedToFail: linker.IsOptionalBuild(install, p.Locator),
			})
		}
	}

	installed, err := countPackageDirs(nmPath)
	if err != nil {
		return nil, err
	}

	plan := linker.BuildPlan{
		Entries:      buildEntries,
		Dependencies: linker.PopulateBuildDependencies(buildEntries, install),
	}
	return &linker.LinkResult{Plan: plan, Installed: installed}, nil
}

// placeDependencies walks pkg's declared dependencies, placing each
// one into parent's node_modules unless parent already resolves that
// ident identically (through itself or an ancestor scope), in which
// case the existing placement already satisfies it and no new
// directory is created. A dependency is never placed in a scope above
// parent.
func placeDependencies(install *linker.Install, pkg *linker.Package, parent *scope, placements *[]placement, processed map[string]bool) error {
	deps := append([]linker.Edge(nil), pkg.Dependencies...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Alias.String() < deps[j].Alias.String() })

	for _, edge := range deps {
		name := edge.Alias.String()

		if resolved, ok := parent.lookup(name); ok {
			if resolved == edge.Locator {
				continue
			}
		}

		dir := filepath.Join(parent.dir, filepath.FromSlash(name))
		parent.resolved[name] = edge.Locator

		key := dir + "|" + edge.Locator.String()
		if processed[key] {
			continue
		}
		processed[key] = true

		*placements = append(*placements, placement{Locator: edge.Locator, Dir: dir})

		depPkg := install.Packages[edge.Locator]
		if depPkg == nil {
			continue
		}
		childScope := &scope{dir: filepath.Join(dir, "node_modules"), resolved: map[string]protocol.Locator{}, parent: parent}
		if err := placeDependencies(install, depPkg, childScope, placements, processed); err != nil {
			return err
		}
	}
	return nil
}

func rootLocators(install *linker.Install) []protocol.Locator {
	var out []protocol.Locator
	for _, root := range install.Roots {
		if l, ok := install.Tree.DescriptorToLocator[root]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// materialize writes pkg's files at dir: a symlink for local/link
// packages (workspace members, `link:`/`portal:` references), an
// extracted copy for zip-backed ones.
func materialize(pkg *linker.Package, dir string) error {
	if pkg.Data == nil {
		return nil
	}

	if pkg.Data.Kind == fetch.PackageDataLocal {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return errors.Wrapf(err, "nodemodules: creating %s", filepath.Dir(dir))
		}
		_ = os.RemoveAll(dir)
		rel, err := filepath.Rel(filepath.Dir(dir), pkg.Data.LocalPath)
		if err != nil {
			rel = pkg.Data.LocalPath
		}
		if err := os.Symlink(rel, dir); err != nil {
			return errors.Wrapf(err, "nodemodules: symlinking %s", dir)
		}
		return nil
	}

	readyPath := filepath.Join(dir, ".ready")
	if _, err := os.Stat(readyPath); err == nil {
		return nil
	}

	raw, err := os.ReadFile(pkg.Data.ArchivePath)
	if err != nil {
		return errors.Wrapf(err, "nodemodules: reading %s", pkg.Data.ArchivePath)
	}
	entries, err := archive.ReadZip(raw)
	if err != nil {
		return err
	}

	for _, e := range entries {
		target := filepath.Join(dir, filepath.FromSlash(e.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "nodemodules: creating %s", filepath.Dir(target))
		}
		if err := os.WriteFile(target, e.Data, os.FileMode(e.Mode)); err != nil {
			return errors.Wrapf(err, "nodemodules: writing %s", target)
		}
	}
	return os.WriteFile(readyPath, nil, 0o644)
}

// countPackageDirs walks the finished tree with godirwalk, counting
// directories that hold a package.json; used only for the
// LinkResult's install count, never to decide placement.
func countPackageDirs(root string) (int, error) {
	count := 0
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, info *godirwalk.Dirent) error {
			if info.IsDir() && !strings.HasSuffix(path, string(filepath.Separator)+"node_modules") {
				if _, err := os.Stat(filepath.Join(path, "package.json")); err == nil {
					count++
				}
			}
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
		Unsorted:            true,
		AllowNonDirectory:   true,
		FollowSymbolicLinks: false,
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, errors.Wrap(err, "nodemodules: counting installed packages")
	}
	return count, nil
}
