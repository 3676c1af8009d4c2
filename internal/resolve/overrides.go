package resolve

import (
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

// overrideTable holds a parsed `resolutions` map and applies priority
// order when a descriptor is about to be dispatched: exact descriptor,
// descriptor-with-child-ident, parent-ident-with-child-ident, bare
// ident. The first matching entry wins; later ones never stack.
// NewEngine starts every Engine with an empty table and nothing outside
// this package can build one, so an install does not apply the root
// manifest's `resolutions` field.
type overrideTable struct {
	entries []overrideEntry
}

type overrideEntry struct {
	selector    manifest.ResolutionSelector
	replacement string
	priority    int
}

func newOverrideTable(resolutions map[manifest.ResolutionSelector]string) *overrideTable {
	t := &overrideTable{}
	for sel, replacement := range resolutions {
		t.entries = append(t.entries, overrideEntry{
			selector:    sel,
			replacement: replacement,
			priority:    selectorPriority(sel),
		})
	}
	return t
}

// selectorPriority ranks a selector shape by specificity, lowest wins
// first: exact descriptor (parent+child range) > descriptor-with-
// child-ident (range but no parent) > parent+child ident > bare ident.
func selectorPriority(sel manifest.ResolutionSelector) int {
	switch {
	case sel.ParentIdent != nil && sel.ChildRange != "":
		return 0
	case sel.ParentIdent == nil && sel.ChildRange != "":
		return 1
	case sel.ParentIdent != nil:
		return 2
	default:
		return 3
	}
}

// apply returns the (possibly overridden) range text for a dependency
// edge, given the enclosing parent's ident (nil for a workspace root)
// and the child descriptor as written in its manifest.
func (t *overrideTable) apply(parentIdent *ident.Ident, childIdent ident.Ident, childRange string) string {
	best := -1
	result := childRange
	for _, e := range t.entries {
		if !e.selector.Matches(parentIdent, childIdent, childRange) {
			continue
		}
		if best == -1 || e.priority < best {
			best   = e.priority
			result = e.replacement
		}
	}
	return result
}

// catalogTable resolves a Range{Kind: RangeCatalog} to the range text
// registered for its ident in the named catalog. Catalogs are
// ident→range maps keyed by catalog name ("" is the default catalog).
// NewEngine starts every Engine with an empty table, and nothing in
// this module reads catalogs from a manifest or config file.
type catalogTable struct {
	byName map[string]map[ident.Ident]string
}

func newCatalogTable(catalogs map[string]map[ident.Ident]string) *catalogTable {
	return &catalogTable{byName: catalogs}
}

func (c *catalogTable) lookup(catalogName string, id ident.Ident) (string, bool) {
	entries, ok := c.byName[catalogName]
	if !ok {
		return "", false
	}
	rng, ok := entries[id]
	return rng, ok
}

// substituteCatalog replaces a catalog-kind range with its resolved
// range text, leaving every other kind untouched.
func substituteCatalog(c *catalogTable, id ident.Ident, raw string) (string, error) {
	rng, err := protocol.ParseRange(raw)
	if err != nil {
		return "", err
	}
	if rng.Kind != protocol.RangeCatalog {
		return raw, nil
	}
	resolved, ok := c.lookup(rng.Catalog, id)
	if !ok {
		return "", &CatalogMissError{Ident: id, Catalog: rng.Catalog}
	}
	return resolved, nil
}

// CatalogMissError reports a catalog range with no matching entry.
type CatalogMissError struct {
	Ident   ident.Ident
	Catalog string
}

func (e *CatalogMissError) Error() string {
	name := e.Catalog
	if name == "" {
		name = "(default)"
	}
	return "resolve: no catalog entry for " + e.Ident.String() + " in catalog " + name
}
