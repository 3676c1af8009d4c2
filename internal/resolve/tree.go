package resolve

import (
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Tree is the output of a resolution run: every workspace root descriptor, the full
// descriptor→locator map, each locator's Resolution, and the set of
// locators reached only through optionalDependencies edges.
type Tree struct {
	Roots               []protocol.Descriptor
	DescriptorToLocator map[protocol.Descriptor]protocol.Locator
	LocatorToResolution map[protocol.Locator]*lockfile.Resolution
	OptionalBuilds      map[protocol.Locator]struct{}

	// VirtualEdges holds the per-consumer redirects Virtualize
	// installs when a dependency has more than one distinct peer
	// context; ResolveDependency consults it ahead of
	// DescriptorToLocator.
	VirtualEdges map[protocol.Locator]map[ident.Ident]protocol.Locator
}

func newTree(roots []protocol.Descriptor) *Tree {
	return &Tree{
		Roots:               roots,
		DescriptorToLocator: map[protocol.Descriptor]protocol.Locator{},
		LocatorToResolution: map[protocol.Locator]*lockfile.Resolution{},
		OptionalBuilds:      map[protocol.Locator]struct{}{},
		VirtualEdges:        map[protocol.Locator]map[ident.Ident]protocol.Locator{},
	}
}

// Chain is one path from a root descriptor down to the ident being
// queried: given an ident, show every chain of locators that pulled
// it in.
type Chain []protocol.Locator

// Why walks the resolved graph backwards from every locator matching
// id and returns the chain of locators (root-to-leaf) responsible for
// each occurrence.
func (t *Tree) Why(id ident.Ident) []Chain {
	parents := map[protocol.Locator][]protocol.Locator{}
	for locator, res := range t.LocatorToResolution {
		for _, dep := range res.Dependencies {
			depLocator := t.ResolveDependency(locator, dep)
			parents[depLocator] = append(parents[depLocator], locator)
		}
	}

	var chains []Chain
	var walk func(l protocol.Locator, trail Chain, seen map[protocol.Locator]bool)
	walk = func(l protocol.Locator, trail Chain, seen map[protocol.Locator]bool) {
		if seen[l] {
			return
		}
		seen = cloneSeen(seen)
		seen[l] = true
		next := append(Chain{l}, trail...)
		ps := parents[l]
		if len(ps) == 0 {
			chains = append(chains, next)
			return
		}
		for _, p := range ps {
			walk(p, next, seen)
		}
	}

	for locator := range t.LocatorToResolution {
		if locator.Ident == id {
			walk(locator, nil, map[protocol.Locator]bool{})
		}
	}
	return chains
}

func cloneSeen(seen map[protocol.Locator]bool) map[protocol.Locator]bool {
	out := make(map[protocol.Locator]bool, len(seen))
	for k, v := range seen {
		out[k] = v
	}
	return out
}

// Change records one substitution Dedupe made.
type Change struct {
	Descriptor protocol.Descriptor
	From       protocol.Locator
	To         protocol.Locator
}

// Dedupe collapses redundant locators: for every
// descriptor pinned to a locator, check whether a lower (already
// chosen, "less specific version bump") resolved locator for the same
// ident also satisfies the descriptor's range; if so, repoint the
// descriptor at it. This only considers descriptors whose range binds
// to nothing (non-local, non-patch), since a bound descriptor's
// locator is pinned to its enclosing package by definition.
func Dedupe(t *Tree) (*Tree, []Change) {
	bestByIdent := map[ident.Ident][]protocol.Locator{}
	for locator := range t.LocatorToResolution {
		bestByIdent[locator.Ident] = append(bestByIdent[locator.Ident], locator)
	}

	var changes []Change
	for descriptor, locator := range t.DescriptorToLocator {
		if descriptor.IsBound() {
			continue
		}
		rng, err := descriptor.ParsedRange()
		if err != nil || rng.Kind != protocol.RangeRegistrySemver {
			continue
		}
		res, ok := t.LocatorToResolution[locator]
		if !ok {
			continue
		}
		for _, candidate := range bestByIdent[locator.Ident] {
			if candidate == locator {
				continue
			}
			candidateRes, ok := t.LocatorToResolution[candidate]
			if !ok || rng.SemverRange == nil {
				continue
			}
			if !rng.SemverRange.Check(candidateRes.Version) {
				continue
			}
			if candidateRes.Version.Less(res.Version) {
				t.DescriptorToLocator[descriptor] = candidate
				changes = append(changes, Change{Descriptor: descriptor, From: locator, To: candidate})
				break
			}
		}
	}
	return t, changes
}
