package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/protocol"
)

// Virtualize runs the peer-dependency virtualization pass once after
// Engine.Run stabilizes. For every locator that
// declares peer dependencies, every distinct consumer peer-context it
// is seen under becomes its own virtual copy; consumers are
// redirected to their copy via Tree.VirtualEdges rather than by
// mutating the shared Descriptor→Locator map, since a non-binding
// descriptor is intentionally deduplicated across unrelated consumers
// (engine.go's merge rule) and must stay that way for everyone who
// doesn't care about peers.
func Virtualize(t *Tree) {
	if t.VirtualEdges == nil {
		t.VirtualEdges = map[protocol.Locator]map[ident.Ident]protocol.Locator{}
	}

	consumers := directDependents(t)

	// Snapshot the pre-virtualization resolutions: providedPeers must
	// see every consumer's original peer context regardless of which
	// order locators are visited in below, including when a consumer
	// is itself a peer-declaring locator virtualized-and-removed by
	// this same pass.
	snapshot := make(map[protocol.Locator]*Resolution, len(t.LocatorToResolution))
	for locator, res := range t.LocatorToResolution {
		snapshot[locator] = res
	}

	var toDelete []protocol.Locator

	for locator, res := range snapshot {
		if len(res.PeerDependencies) == 0 {
			continue
		}
		deps := consumers[locator]
		if len(deps) == 0 {
			continue
		}

		type group struct {
			provided map[ident.Ident]protocol.Locator
			missing map[ident.Ident]struct{}
			members []protocol.Locator
		}
		groups := map[string]*group{}

		for _, consumer := range deps {
			provided, missing := providedPeers(t, snapshot, consumer, res.PeerDependencies)
			sig := peerSignature(provided, missing)
			g, ok := groups[sig]
			if !ok {
				g = &group{provided: provided, missing: missing}
				groups[sig] = g
			}
			g.members = append(g.members, consumer)
		}

		for _, g := range groups {
			hash := virtualHash(g.provided)
			virtualLocator := toVirtual(locator, hash)

			if _, exists := t.LocatorToResolution[virtualLocator]; !exists {
				clone := *res
				clone.Locator = virtualLocator
				clone.MissingPeerDependencies = g.missing
				t.LocatorToResolution[virtualLocator] = &clone
				if _, ok := t.OptionalBuilds[locator]; ok {
					t.OptionalBuilds[virtualLocator] = struct{}{}
				}
			}
			for _, consumer := range g.members {
				if t.VirtualEdges[consumer] == nil {
					t.VirtualEdges[consumer] = map[ident.Ident]protocol.Locator{}
				}
				t.VirtualEdges[consumer][locator.Ident] = virtualLocator
			}
		}

		toDelete = append(toDelete, locator)
	}

	for _, locator := range toDelete {
		delete(t.LocatorToResolution, locator)
	}
}

// directDependents maps a depended-upon locator to every locator whose
// Resolution lists a dependency resolving to it.
func directDependents(t *Tree) map[protocol.Locator][]protocol.Locator {
	out := map[protocol.Locator][]protocol.Locator{}
	for consumer, res := range t.LocatorToResolution {
		for _, dep := range res.Dependencies {
			dependedOn := t.ResolveDependency(consumer, dep)
			out[dependedOn] = append(out[dependedOn], consumer)
		}
	}
	return out
}

// providedPeers looks at consumer's own direct dependencies (the
// context a peer dependency is satisfied from) for each peer ident,
// recording which locator it resolves to, or that it's missing.
// resolutions is always the pre-virtualization snapshot, so a
// consumer that this same Virtualize pass also virtualizes still
// reports the peer context it actually had.
func providedPeers(t *Tree, resolutions map[protocol.Locator]*Resolution, consumer protocol.Locator, peerDeps map[ident.Ident]string) (map[ident.Ident]protocol.Locator, map[ident.Ident]struct{}) {
	provided := map[ident.Ident]protocol.Locator{}
	missing := map[ident.Ident]struct{}{}

	consumerRes, ok := resolutions[consumer]
	if !ok {
		for id := range peerDeps {
			missing[id] = struct{}{}
		}
		return provided, missing
	}

	for id := range peerDeps {
		found := false
		for _, dep := range consumerRes.Dependencies {
			if dep.Ident == id {
				provided[id] = t.ResolveDependency(consumer, dep)
				found = true
				break
			}
		}
		if !found {
			missing[id] = struct{}{}
		}
	}
	return provided, missing
}

func peerSignature(provided map[ident.Ident]protocol.Locator, missing map[ident.Ident]struct{}) string {
	var parts []string
	for id, locator := range provided {
		parts = append(parts, id.String()+"="+locator.String())
	}
	for id := range missing {
		parts = append(parts, id.String()+"=?")
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// virtualHash derives a short, stable suffix for a virtual copy: a
// digest of the concatenated (ident, resolved peer locator text)
// pairs, sorted for determinism. sha256 truncated to 10 hex characters
// is used — enough entropy to make collisions practically irrelevant
// within one project's peer-set space, and short enough to stay
// legible in a `__virtual__/<hash>/...` path.
func virtualHash(provided map[ident.Ident]protocol.Locator) string {
	var ids []ident.Ident
	for id := range provided {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id.String()))
		h.Write([]byte{0})
		h.Write([]byte(provided[id].String()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:10]
}

func toVirtual(locator protocol.Locator, hash string) protocol.Locator {
	return protocol.Locator{
		Ident:     locator.Ident,
		Reference: "virtual:" + locator.Reference + "#" + hash,
		Parent:    locator.Parent,
	}
}

// ResolveDependency returns the locator a consumer's dependency edge
// actually points at, preferring a per-consumer virtual redirect over
// the shared Descriptor→Locator map.
func (t *Tree) ResolveDependency(consumer protocol.Locator, dep lockfile.DependencyEntry) protocol.Locator {
	if overrides, ok := t.VirtualEdges[consumer]; ok {
		if l, ok := overrides[dep.Ident]; ok {
			return l
		}
	}
	return t.DescriptorToLocator[dep.Descriptor]
}
