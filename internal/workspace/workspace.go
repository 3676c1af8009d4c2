// Package workspace discovers the monorepo's workspace member
// packages from the root manifest's workspace glob patterns, the way
// packagemanager.PackageManager.GetWorkspaces walks a project root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zpmjs/zpm/internal/globby"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/manifest"
)

// Member is one discovered workspace package: its manifest and the
// absolute directory it lives in.
type Member struct {
	Dir      string
	Manifest *manifest.Manifest
}

// Catalog holds every workspace member found under a project root,
// keyed by the ident its own manifest declares.
type Catalog struct {
	Root    Member
	Members map[ident.Ident]Member
}

// Discover reads projectRoot's package.json, then globs its
// "workspaces" field (defaulting to no members for a single-package
// project) to find every nested package.json, parsing each into a
// Member.
func Discover(projectRoot string) (*Catalog, error) {
	root, err := readMember(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("reading root manifest: %w", err)
	}

	members := map[ident.Ident]Member{}
	for _, dir := range globWorkspaceDirs(projectRoot, root.Manifest.Workspaces) {
		m, err := readMember(dir)
		if err != nil {
			return nil, fmt.Errorf("reading workspace manifest at %s: %w", dir, err)
		}
		id, err := ident.Parse(m.Manifest.Name)
		if err != nil {
			return nil, fmt.Errorf("workspace at %s: %w", dir, err)
		}
		members[id] = m
	}

	return &Catalog{Root: root, Members: members}, nil
}

// WorkspaceMap projects a Catalog down to the ident->absolute-dir map
// fetch.Env.Workspaces needs to satisfy a "workspace:ident" reference.
func (c *Catalog) WorkspaceMap() map[ident.Ident]string {
	out := make(map[ident.Ident]string, len(c.Members))
	for id, m := range c.Members {
		out[id] = m.Dir
	}
	return out
}

func readMember(dir string) (Member, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return Member{}, err
	}
	man, err := manifest.Parse(data)
	if err != nil {
		return Member{}, err
	}
	return Member{Dir: dir, Manifest: man}, nil
}

// globWorkspaceDirs expands the "workspaces" glob patterns in the root
// manifest into the absolute directories containing a package.json,
// the same way GetWorkspaces turns each glob into a "<glob>/package.json"
// pattern and hands the whole set to globby in one pass.
func globWorkspaceDirs(root string, globs []string) []string {
	if len(globs) == 0 {
		return nil
	}

	include := make([]string, len(globs))
	for i, g := range globs {
		include[i] = filepath.Join(g, "package.json")
	}
	ignore := []string{"**/node_modules/**"}

	var dirs []string
	for _, f := range globby.GlobFiles(root, include, ignore) {
		dirs = append(dirs, filepath.Dir(f))
	}
	return dirs
}
