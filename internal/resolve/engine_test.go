package resolve

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/version"
)

// fakeRegistry resolves registrySemver descriptors from an in-memory
// table keyed by ident name, recording every range it was asked to
// resolve and how many times each ident was dispatched.
type fakeRegistry struct {
	byIdent map[string]func(d protocol.Descriptor) *lockfile.Resolution
	calls   map[string]*int32
	seen    map[string][]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		byIdent: map[string]func(d protocol.Descriptor) *lockfile.Resolution{},
		calls:   map[string]*int32{},
		seen:    map[string][]string{},
	}
}

func (f *fakeRegistry) on(name string, fn func(d protocol.Descriptor) *lockfile.Resolution) {
	f.byIdent[name] = fn
	f.calls[name] = new(int32)
}

func (f *fakeRegistry) count(name string) int32 { return atomic.LoadInt32(f.calls[name]) }

func (f *fakeRegistry) Resolve(_ context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	fn, ok := f.byIdent[d.Ident.Name]
	if !ok {
		return nil, errNoFixture(d.Ident.Name)
	}
	atomic.AddInt32(f.calls[d.Ident.Name], 1)
	f.seen[d.Ident.Name] = append(f.seen[d.Ident.Name], d.Range)
	return fn(d), nil
}

func (f *fakeRegistry) ResolveFetched(context.Context, protocol.Locator, *manifest.Manifest) (*lockfile.Resolution, error) {
	panic("fakeRegistry never needs a fetch")
}

type fixtureMissError struct{ name string }

func (e fixtureMissError) Error() string { return "no fixture for " + e.name }
func errNoFixture(name string) error     { return fixtureMissError{name: name} }

func mustVersion(t *testing.T, raw string) version.Version {
	t.Helper()
	v, err := version.Parse(raw)
	if err != nil {
		t.Fatalf("version.Parse(%q): %v", raw, err)
	}
	return v
}

func mustLocator(t *testing.T, raw string) protocol.Locator {
	t.Helper()
	l, err := protocol.ParseLocator(raw)
	if err != nil {
		t.Fatalf("ParseLocator(%q): %v", raw, err)
	}
	return l
}

func depOn(name, rng string) lockfile.DependencyEntry {
	return lockfile.DependencyEntry{
		Ident:      ident.MustParse(name),
		Descriptor: protocol.Descriptor{Ident: ident.MustParse(name), Range: rng},
	}
}

func TestRunResolvesLinearChain(t *testing.T) {
	reg := newFakeRegistry()
	reg.on("a", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator:      mustLocator(t, "a@npm:1.2.0"),
			Version:      mustVersion(t, "1.2.0"),
			Dependencies: []lockfile.DependencyEntry{depOn("b", "npm:^2.0.0")},
		}
	})
	reg.on("b", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator: mustLocator(t, "b@npm:2.0.0"),
			Version: mustVersion(t, "2.0.0"),
		}
	})

	e := NewEngine(map[protocol.RangeKind]Resolver{protocol.RangeRegistrySemver: reg}, nil)
	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "npm:^1.0.0"}

	tree, err := e.Run(context.Background(), []protocol.Descriptor{root})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rootLocator, ok := tree.DescriptorToLocator[root]
	if !ok || rootLocator.String() != "a@npm:1.2.0" {
		t.Fatalf("root resolved to %v, %v", rootLocator, ok)
	}
	if _, ok := tree.LocatorToResolution[mustLocator(t, "b@npm:2.0.0")]; !ok {
		t.Fatalf("transitive dependency b was not resolved")
	}
}

func TestRunDedupesNonBindingDescriptorAcrossParents(t *testing.T) {
	reg := newFakeRegistry()
	reg.on("a", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator:      mustLocator(t, "a@npm:1.0.0"),
			Version:      mustVersion(t, "1.0.0"),
			Dependencies: []lockfile.DependencyEntry{depOn("shared", "npm:^1.0.0")},
		}
	})
	reg.on("b", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator:      mustLocator(t, "b@npm:1.0.0"),
			Version:      mustVersion(t, "1.0.0"),
			Dependencies: []lockfile.DependencyEntry{depOn("shared", "npm:^1.0.0")},
		}
	})
	reg.on("shared", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator: mustLocator(t, "shared@npm:1.0.0"),
			Version: mustVersion(t, "1.0.0"),
		}
	})

	e := NewEngine(map[protocol.RangeKind]Resolver{protocol.RangeRegistrySemver: reg}, nil)
	roots := []protocol.Descriptor{
		{Ident: ident.MustParse("a"), Range: "npm:^1.0.0"},
		{Ident: ident.MustParse("b"), Range: "npm:^1.0.0"},
	}

	if _, err := e.Run(context.Background(), roots); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := reg.count("shared"); got != 1 {
		t.Fatalf("shared resolved %d times, want 1 (non-binding descriptors must dedup across parents)", got)
	}
}

func TestRunCatalogSubstitution(t *testing.T) {
	reg := newFakeRegistry()
	reg.on("a", func(d protocol.Descriptor) *lockfile.Resolution {
		if d.Range != "npm:^1.0.0" {
			t.Errorf("catalog substitution produced range %q, want npm:^1.0.0", d.Range)
		}
		return &lockfile.Resolution{Locator: mustLocator(t, "a@npm:1.0.0"), Version: mustVersion(t, "1.0.0")}
	})

	e := NewEngine(map[protocol.RangeKind]Resolver{protocol.RangeRegistrySemver: reg}, nil)
	e.Catalogs = newCatalogTable(map[string]map[ident.Ident]string{
		"": {ident.MustParse("a"): "npm:^1.0.0"},
	})

	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "catalog:"}
	tree, err := e.Run(context.Background(), []protocol.Descriptor{root})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := tree.DescriptorToLocator[root]; !ok {
		t.Fatalf("catalog-substituted root was never resolved")
	}
}

func TestRunCatalogMissSurfacesError(t *testing.T) {
	reg := newFakeRegistry()
	e := NewEngine(map[protocol.RangeKind]Resolver{protocol.RangeRegistrySemver: reg}, nil)
	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "catalog:"}

	_, err := e.Run(context.Background(), []protocol.Descriptor{root})
	if err == nil {
		t.Fatalf("expected a catalog-miss error")
	}
}

func TestOverrideTableSelectsMostSpecificEntry(t *testing.T) {
	webpack := ident.MustParse("webpack")
	sel1, err := manifest.ParseResolutionSelector("webpack/lodash@^4.0.0")
	if err != nil {
		t.Fatalf("ParseResolutionSelector: %v", err)
	}
	sel2, err := manifest.ParseResolutionSelector("lodash")
	if err != nil {
		t.Fatalf("ParseResolutionSelector: %v", err)
	}

	table := newOverrideTable(map[manifest.ResolutionSelector]string{
		sel1: "npm:4.17.21",
		sel2: "npm:3.0.0",
	})

	got := table.apply(&webpack, ident.MustParse("lodash"), "^4.0.0")
	if got != "npm:4.17.21" {
		t.Fatalf("apply returned %q, want the exact-descriptor override", got)
	}

	other := ident.MustParse("other-parent")
	got = table.apply(&other, ident.MustParse("lodash"), "^1.0.0")
	if got != "npm:3.0.0" {
		t.Fatalf("apply returned %q, want the bare-ident fallback", got)
	}
}

func TestRunAppliesResolutionOverride(t *testing.T) {
	reg := newFakeRegistry()
	reg.on("a", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator:      mustLocator(t, "a@npm:1.0.0"),
			Version:      mustVersion(t, "1.0.0"),
			Dependencies: []lockfile.DependencyEntry{depOn("b", "npm:^1.0.0")},
		}
	})
	reg.on("b", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{Locator: mustLocator(t, "b@npm:2.5.0"), Version: mustVersion(t, "2.5.0")}
	})

	sel, err := manifest.ParseResolutionSelector("b")
	if err != nil {
		t.Fatalf("ParseResolutionSelector: %v", err)
	}

	e := NewEngine(map[protocol.RangeKind]Resolver{protocol.RangeRegistrySemver: reg}, nil)
	e.Overrides = newOverrideTable(map[manifest.ResolutionSelector]string{sel: "npm:^2.0.0"})

	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "npm:^1.0.0"}
	if _, err := e.Run(context.Background(), []protocol.Descriptor{root}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := reg.seen["b"]
	if len(seen) != 1 || seen[0] != "npm:^2.0.0" {
		t.Fatalf("b was dispatched with ranges %v, want [npm:^2.0.0]", seen)
	}
}

// fetchableResolver models a range kind whose graph can't be known
// without reading the candidate's manifest (git/tarball/folder/patch).
type fetchableResolver struct {
	locator protocol.Locator
}

func (r fetchableResolver) Resolve(context.Context, protocol.Descriptor) (*lockfile.Resolution, error) {
	return nil, &NeedsFetchError{Locator: r.locator}
}

func (r fetchableResolver) ResolveFetched(_ context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	return &lockfile.Resolution{Locator: locator, Version: mustVersionNoT(man.Version)}, nil
}

func mustVersionNoT(raw string) version.Version {
	v, _ := version.Parse(raw)
	return v
}

type fakeFetcher struct {
	manifests map[string]*manifest.Manifest
	errs      map[string]error
}

func (f fakeFetcher) FetchManifest(_ context.Context, l protocol.Locator) (*manifest.Manifest, error) {
	key := l.String()
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.manifests[key], nil
}

func TestRunFetchesManifestBeforeResolving(t *testing.T) {
	locator := mustLocator(t, "a@git+https://example.com/a.git#main")
	fetcher := fakeFetcher{manifests: map[string]*manifest.Manifest{
		locator.String(): {Version: "1.0.0"},
	}}
	e := NewEngine(map[protocol.RangeKind]Resolver{
		protocol.RangeGit: fetchableResolver{locator: locator},
	}, fetcher)

	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "git+https://example.com/a.git#main"}
	tree, err := e.Run(context.Background(), []protocol.Descriptor{root})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tree.DescriptorToLocator[root]; got.String() != locator.String() {
		t.Fatalf("root resolved to %v, want %v", got, locator)
	}
}

func TestRunOptionalFetchFailureDoesNotAbort(t *testing.T) {
	locator := mustLocator(t, "opt@git+https://example.com/opt.git#main")
	fetcher := fakeFetcher{errs: map[string]error{locator.String(): fixtureMissError{name: "opt"}}}

	reg := newFakeRegistry()
	reg.on("a", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator:              mustLocator(t, "a@npm:1.0.0"),
			Version:              mustVersion(t, "1.0.0"),
			Dependencies:         []lockfile.DependencyEntry{depOn("opt", "git+https://example.com/opt.git#main")},
			OptionalDependencies: map[ident.Ident]struct{}{ident.MustParse("opt"): {}},
		}
	})

	e := NewEngine(map[protocol.RangeKind]Resolver{
		protocol.RangeRegistrySemver: reg,
		protocol.RangeGit:            fetchableResolver{locator: locator},
	}, fetcher)

	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "npm:^1.0.0"}
	_, err := e.Run(context.Background(), []protocol.Descriptor{root})
	if err != nil {
		t.Fatalf("Run returned an error for a failed optional dependency: %v", err)
	}
}

func TestRunNonOptionalFetchFailureAborts(t *testing.T) {
	locator := mustLocator(t, "req@git+https://example.com/req.git#main")
	fetcher := fakeFetcher{errs: map[string]error{locator.String(): fixtureMissError{name: "req"}}}

	reg := newFakeRegistry()
	reg.on("a", func(d protocol.Descriptor) *lockfile.Resolution {
		return &lockfile.Resolution{
			Locator:      mustLocator(t, "a@npm:1.0.0"),
			Version:      mustVersion(t, "1.0.0"),
			Dependencies: []lockfile.DependencyEntry{depOn("req", "git+https://example.com/req.git#main")},
		}
	})

	e := NewEngine(map[protocol.RangeKind]Resolver{
		protocol.RangeRegistrySemver: reg,
		protocol.RangeGit:            fetchableResolver{locator: locator},
	}, fetcher)

	root := protocol.Descriptor{Ident: ident.MustParse("a"), Range: "npm:^1.0.0"}
	_, err := e.Run(context.Background(), []protocol.Descriptor{root})
	if err == nil {
		t.Fatalf("expected a FetchFailedError for a non-optional dependency")
	}
}

func TestWhyReturnsRootToLeafChains(t *testing.T) {
	tree := newTree(nil)
	a := mustLocator(t, "a@npm:1.0.0")
	b := mustLocator(t, "b@npm:1.0.0")
	tree.LocatorToResolution[a] = &lockfile.Resolution{
		Locator:      a,
		Dependencies: []lockfile.DependencyEntry{depOn("b", "npm:^1.0.0")},
	}
	tree.LocatorToResolution[b] = &lockfile.Resolution{Locator: b}
	tree.DescriptorToLocator[depOn("b", "npm:^1.0.0").Descriptor] = b

	chains := tree.Why(ident.MustParse("b"))
	if len(chains) != 1 || len(chains[0]) != 2 {
		t.Fatalf("Why returned %v, want one 2-hop chain", chains)
	}
	if chains[0][0].String() != a.String() || chains[0][1].String() != b.String() {
		t.Fatalf("Why chain = %v, want [a, b]", chains[0])
	}
}

func TestDedupeRepointsToLowerSatisfyingLocator(t *testing.T) {
	tree := newTree(nil)
	low := mustLocator(t, "shared@npm:1.0.0")
	high := mustLocator(t, "shared@npm:1.5.0")
	tree.LocatorToResolution[low] = &lockfile.Resolution{Locator: low, Version: mustVersion(t, "1.0.0")}
	tree.LocatorToResolution[high] = &lockfile.Resolution{Locator: high, Version: mustVersion(t, "1.5.0")}

	d := protocol.Descriptor{Ident: ident.MustParse("shared"), Range: "npm:^1.0.0"}
	tree.DescriptorToLocator[d] = high

	_, changes := Dedupe(tree)
	if len(changes) != 1 || changes[0].To.String() != low.String() {
		t.Fatalf("Dedupe changes = %v, want a single repoint to %v", changes, low)
	}
	if tree.DescriptorToLocator[d].String() != low.String() {
		t.Fatalf("descriptor still points at %v after Dedupe", tree.DescriptorToLocator[d])
	}
}

func TestVirtualizeSplitsByPeerContext(t *testing.T) {
	tree := newTree(nil)

	peerProvider := mustLocator(t, "peer@npm:1.0.0")
	otherPeerProvider := mustLocator(t, "peer@npm:2.0.0")
	shared := mustLocator(t, "shared@npm:1.0.0")
	consumerOne := mustLocator(t, "consumer-one@npm:1.0.0")
	consumerTwo := mustLocator(t, "consumer-two@npm:1.0.0")

	tree.LocatorToResolution[peerProvider] = &lockfile.Resolution{Locator: peerProvider}
	tree.LocatorToResolution[otherPeerProvider] = &lockfile.Resolution{Locator: otherPeerProvider}
	tree.LocatorToResolution[shared] = &lockfile.Resolution{
		Locator:          shared,
		PeerDependencies: map[ident.Ident]string{ident.MustParse("peer"): "npm:^1.0.0"},
	}
	tree.LocatorToResolution[consumerOne] = &lockfile.Resolution{
		Locator: consumerOne,
		Dependencies: []lockfile.DependencyEntry{
			depOn("shared", "npm:^1.0.0"),
			depOn("peer", "npm:^1.0.0"),
		},
	}
	tree.LocatorToResolution[consumerTwo] = &lockfile.Resolution{
		Locator: consumerTwo,
		Dependencies: []lockfile.DependencyEntry{
			depOn("shared", "npm:^1.0.0"),
			depOn("peer", "npm:^2.0.0"),
		},
	}
	tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("shared"), Range: "npm:^1.0.0"}] = shared
	tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("peer"), Range: "npm:^1.0.0"}] = peerProvider
	tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("peer"), Range: "npm:^2.0.0"}] = otherPeerProvider

	Virtualize(tree)

	v1 := tree.VirtualEdges[consumerOne][ident.MustParse("shared")]
	v2 := tree.VirtualEdges[consumerTwo][ident.MustParse("shared")]
	if v1.String() == "" || v2.String() == "" {
		t.Fatalf("expected both consumers to get a virtual redirect, got %v / %v", v1, v2)
	}
	if v1.String() == v2.String() {
		t.Fatalf("consumers with different peer contexts got the same virtual locator %v", v1)
	}
	if _, stillPhysical := tree.LocatorToResolution[shared]; stillPhysical {
		t.Fatalf("physical locator %v should have been subsumed by its virtual copies", shared)
	}
}

// TestVirtualizeNestedPeerProvidersIsOrderIndependent guards against a
// regression where Virtualize deleted a locator's entry from
// LocatorToResolution while still ranging over that map, so a
// consumer that is itself a peer-declaring locator (and thus also
// gets virtualized-and-removed by the same pass) could report a
// spuriously missing peer depending on which order the two locators
// happened to be visited in.
func TestVirtualizeNestedPeerProvidersIsOrderIndependent(t *testing.T) {
	for i := 0; i < 50; i++ {
		tree := newTree(nil)

		providerP := mustLocator(t, "p@npm:1.0.0")
		providerQ := mustLocator(t, "q@npm:1.0.0")
		c := mustLocator(t, "c@npm:1.0.0")
		b := mustLocator(t, "b@npm:1.0.0")
		d := mustLocator(t, "d@npm:1.0.0")

		tree.LocatorToResolution[providerP] = &lockfile.Resolution{Locator: providerP}
		tree.LocatorToResolution[providerQ] = &lockfile.Resolution{Locator: providerQ}
		tree.LocatorToResolution[c] = &lockfile.Resolution{
			Locator:          c,
			PeerDependencies: map[ident.Ident]string{ident.MustParse("p"): "npm:^1.0.0"},
		}
		tree.LocatorToResolution[b] = &lockfile.Resolution{
			Locator:          b,
			PeerDependencies: map[ident.Ident]string{ident.MustParse("q"): "npm:^1.0.0"},
			Dependencies: []lockfile.DependencyEntry{
				depOn("c", "npm:^1.0.0"),
				depOn("p", "npm:^1.0.0"),
			},
		}
		tree.LocatorToResolution[d] = &lockfile.Resolution{
			Locator: d,
			Dependencies: []lockfile.DependencyEntry{
				depOn("b", "npm:^1.0.0"),
				depOn("q", "npm:^1.0.0"),
			},
		}
		tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("c"), Range: "npm:^1.0.0"}] = c
		tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("p"), Range: "npm:^1.0.0"}] = providerP
		tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("q"), Range: "npm:^1.0.0"}] = providerQ
		tree.DescriptorToLocator[protocol.Descriptor{Ident: ident.MustParse("b"), Range: "npm:^1.0.0"}] = b

		Virtualize(tree)

		virtualC := tree.VirtualEdges[b][ident.MustParse("c")]
		if virtualC.String() == "" {
			t.Fatalf("iteration %d: expected b to get a virtual redirect for c", i)
		}
		res, ok := tree.LocatorToResolution[virtualC]
		if !ok {
			t.Fatalf("iteration %d: virtual copy %v of c missing from tree", i, virtualC)
		}
		if len(res.MissingPeerDependencies) != 0 {
			t.Fatalf("iteration %d: b provides peer %q to c, but got missing peers %v", i, "p", res.MissingPeerDependencies)
		}
	}
}
