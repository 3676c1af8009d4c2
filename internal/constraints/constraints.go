// Package constraints checks project-wide rules against an already
// resolved dependency graph: every workspace's manifest satisfies a
// declarative rule (a dependency is pinned to the same version
// everywhere, a manifest field carries a required value) without
// needing a general-purpose logic engine for the rule shapes this
// program actually exercises.
package constraints

import (
	"encoding/json"
	"sort"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
)

// Workspace is one workspace member's manifest plus the resolved
// version of every dependency it declares, keyed by ident.
type Workspace struct {
	Locator  protocol.Locator
	Manifest *manifest.Manifest
	Versions map[ident.Ident]string
}

// Violation is one rule's complaint about one workspace.
type Violation struct {
	Rule      string
	Workspace protocol.Locator
	Message   string
}

// Rule checks every workspace and reports every violation found. A
// clean run returns nil, not an empty non-nil slice.
type Rule interface {
	Name() string
	Check(workspaces []Workspace) []Violation
}

// Ruleset runs every Rule against the same workspace set and
// collects their violations in rule order.
type Ruleset struct {
	Rules []Rule
}

// Check runs every rule in order and returns every violation found.
func (rs Ruleset) Check(workspaces []Workspace) []Violation {
	var out []Violation
	for _, r := range rs.Rules {
		out = append(out, r.Check(workspaces)...)
	}
	return out
}

// BuildWorkspaces collects one Workspace per tree root, resolving each
// root's direct dependencies against the tree's own maps so rules
// don't need to re-walk descriptor/locator bookkeeping themselves.
// manifests supplies the fetched manifest for every locator the tree
// resolved, keyed the same way tree.LocatorToResolution is.
func BuildWorkspaces(tree *resolve.Tree, manifests map[protocol.Locator]*manifest.Manifest) []Workspace {
	workspaces := make([]Workspace, 0, len(tree.Roots))
	for _, root := range tree.Roots {
		locator, ok := tree.DescriptorToLocator[root]
		if !ok {
			continue
		}
		res, ok := tree.LocatorToResolution[locator]
		if !ok {
			continue
		}

		versions := map[ident.Ident]string{}
		for _, dep := range res.Dependencies {
			depLocator, ok := tree.DescriptorToLocator[dep.Descriptor]
			if !ok {
				continue
			}
			if depRes, ok := tree.LocatorToResolution[depLocator]; ok {
				versions[dep.Ident] = depRes.Version.String()
			}
		}

		workspaces = append(workspaces, Workspace{
			Locator:  locator,
			Manifest: manifests[locator],
			Versions: versions,
		})
	}
	return workspaces
}

// SameVersion requires every workspace that depends on Dependency to
// resolve it to the same version; a workspace that doesn't depend on
// it at all is skipped rather than flagged.
type SameVersion struct {
	Dependency ident.Ident
}

func (r SameVersion) Name() string { return "same-version:" + r.Dependency.String() }

func (r SameVersion) Check(workspaces []Workspace) []Violation {
	counts := map[string]int{}
	for _, ws := range workspaces {
		if v, ok := ws.Versions[r.Dependency]; ok {
			counts[v]++
		}
	}
	if len(counts) <= 1 {
		return nil
	}

	majority := majorityKey(counts)

	var violations []Violation
	for _, ws := range workspaces {
		v, ok := ws.Versions[r.Dependency]
		if !ok || v == majority {
			continue
		}
		violations = append(violations, Violation{
			Rule:      r.Name(),
			Workspace: ws.Locator,
			Message:   "depends on " + r.Dependency.String() + "@" + v + ", expected " + majority,
		})
	}
	return violations
}

func majorityKey(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := keys[0]
	for _, k := range keys[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

// FieldEquals requires every workspace's manifest to carry Value for
// the top-level Raw field named Field (e.g. "license"). A workspace
// whose manifest doesn't have the field at all is reported as a
// violation, since a project-wide rule implies the field is required.
type FieldEquals struct {
	Field string
	Value string
}

func (r FieldEquals) Name() string { return "field-equals:" + r.Field }

func (r FieldEquals) Check(workspaces []Workspace) []Violation {
	var violations []Violation
	for _, ws := range workspaces {
		if ws.Manifest == nil {
			continue
		}
		raw, ok := ws.Manifest.Raw[r.Field]
		var got string
		if ok {
			_ = json.Unmarshal(raw, &got)
		}
		if got != r.Value {
			violations = append(violations, Violation{
				Rule:      r.Name(),
				Workspace: ws.Locator,
				Message:   r.Field + "=" + got + ", expected " + r.Value,
			})
		}
	}
	return violations
}
