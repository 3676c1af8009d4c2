package resolve

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

// DefaultParallelism is the default in-flight op cap.
const DefaultParallelism = 100

// Resolver turns one descriptor into a Resolution for the Range kinds
// it owns. If the candidate locator's dependency graph can only be
// known by reading its manifest, Resolve returns a *NeedsFetchError
// naming the locator to fetch; the engine then calls ResolveFetched
// once the fetch completes.
type Resolver interface {
	Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error)
	ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error)
}

// Fetcher retrieves a locator's manifest without materializing the
// whole package on disk — just enough for the engine to read its
// dependency/peerDependency fields. The full archive fetch is a
// separate concern triggered later, by the build/link stage.
type Fetcher interface {
	FetchManifest(ctx context.Context, locator protocol.Locator) (*manifest.Manifest, error)
}

// Engine runs the descriptor/locator resolution scheduler.
type Engine struct {
	Parallelism int
	Resolvers   map[protocol.RangeKind]Resolver
	Fetcher     Fetcher

	Overrides *overrideTable
	Catalogs  *catalogTable

	// Pins holds a lockfile already on disk; a descriptor with a
	// matching pin adopts its locator immediately instead of
	// dispatching a Resolve op, unless RefreshLockfile is set.
	Pins            *lockfile.Document
	RefreshLockfile bool

	// Extensions patches a fetched manifest's dependency fields before
	// ResolveFetched sees it, for project-declared fixes to a broken
	// upstream manifest. Nil means no patching.
	Extensions *manifest.Extensions
}

// NewEngine builds an Engine with the given per-range resolvers and
// fetcher, defaulting Parallelism to DefaultParallelism.
func NewEngine(resolvers map[protocol.RangeKind]Resolver, fetcher Fetcher) *Engine {
	return &Engine{
		Parallelism: DefaultParallelism,
		Resolvers:   resolvers,
		Fetcher:     fetcher,
		Overrides:   newOverrideTable(nil),
		Catalogs:    newCatalogTable(nil),
	}
}

type outcome struct {
	op         op
	resolution *lockfile.Resolution
	man        *manifest.Manifest
	err        error
}

// Run executes the dataflow scheduler over roots, used as given
// (Overrides applies to the dependency edges of each resolution, not
// to roots), and returns the resulting Tree. Per-descriptor resolution
// errors are collected into the returned multierror rather than
// aborting other work; a fetch failure for a non-optional locator
// aborts the run: no further op is dispatched, ops already in flight
// are drained, and Run returns the collected errors.
func (e *Engine) Run(ctx context.Context, roots []protocol.Descriptor) (*Tree, error) {
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	tree := newTree(roots)
	visited := mapset.NewSet()
	waiters := map[protocol.Locator][]protocol.Descriptor{}
	optional := map[protocol.Descriptor]bool{}
	backoffs := map[op]*backoff.ExponentialBackOff{}

	var pending []op
	enqueue := func(o op) {
		if !visited.Add(o) {
			return
		}
		pending = append(pending, o)
	}

	for _, root := range roots {
		enqueue(resolveOp(root))
	}

	results := make(chan outcome)
	retries := make(chan op)
	inFlight := 0
	retrying := 0
	var failures *multierror.Error
	aborted := false

	dispatch := func(o op) {
		inFlight++
		go func() {
			out := e.execute(ctx, o)
			results <- out
		}()
	}

	// requeue schedules o to re-enter pending after a backoff delay and,
	// on a transport-level error, permanently shrinks the allowed
	// concurrency by one so a flaky registry connection backs off rather
	// than retrying at full parallelism forever.
	requeue := func(o op) {
		if parallelism > 1 {
			parallelism--
		}
		bo := backoffs[o]
		if bo == nil {
			bo = backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 0
			backoffs[o] = bo
		}
		delay := bo.NextBackOff()
		retrying++
		go func() {
			time.Sleep(delay)
			retries <- o
		}()
	}

	for len(pending) > 0 || inFlight > 0 || retrying > 0 {
		for len(pending) > 0 && inFlight < parallelism && !aborted {
			next := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			dispatch(next)
		}
		if inFlight == 0 && retrying == 0 {
			break
		}

		select {
		case o := <-retries:
			retrying--
			pending = append(pending, o)

		case out := <-results:
			inFlight--

			switch {
			case out.err != nil:
				var connErr *ConnectionError
				var needsFetch *NeedsFetchError
				switch {
				case errors.As(out.err, &connErr):
					requeue(out.op)

				case errors.As(out.err, &needsFetch):
					d := out.op.descriptor
					waiters[needsFetch.Locator] = append(waiters[needsFetch.Locator], d)
					enqueue(fetchOp(needsFetch.Locator))

				case out.op.kind == opFetch:
					deps := waiters[out.op.locator]
					isOptional := len(deps) > 0
					for _, d := range deps {
						isOptional = isOptional && optional[d]
					}
					if !isOptional {
						failures = multierror.Append(failures, &FetchFailedError{
							Locator: out.op.locator, DependsOn: deps, Err: out.err,
						})
						aborted = true
					}

				default:
					failures = multierror.Append(failures, &DescriptorError{Descriptor: out.op.descriptor, Err: out.err})
				}

			case out.op.kind == opResolve:
				e.acceptResolution(tree, out.op.descriptor, out.resolution, optional, enqueue)

			case out.op.kind == opFetch:
				for _, d := range waiters[out.op.locator] {
					res, err := e.resolverFor(d).ResolveFetched(ctx, out.op.locator, out.man)
					if err != nil {
						failures = multierror.Append(failures, &DescriptorError{Descriptor: d, Err: err})
						continue
					}
					e.acceptResolution(tree, d, res, optional, enqueue)
				}
			}
		}
	}

	return tree, failures.ErrorOrNil()
}

func (e *Engine) resolverFor(d protocol.Descriptor) Resolver {
	raw, err := substituteCatalog(e.Catalogs, d.Ident, d.Range)
	if err != nil {
		return nil
	}
	rng, err := protocol.ParseRange(raw)
	if err != nil {
		return nil
	}
	return e.Resolvers[rng.Kind]
}

func (e *Engine) execute(ctx context.Context, o op) outcome {
	if o.kind == opFetch {
		man, err := e.Fetcher.FetchManifest(ctx, o.locator)
		if err == nil {
			man = e.Extensions.Apply(o.locator.Ident, man)
		}
		return outcome{op: o, man: man, err: err}
	}

	d := o.descriptor
	rng, err := d.ParsedRange()
	if err != nil {
		return outcome{op: o, err: err}
	}

	if rng.Kind == protocol.RangeCatalog {
		resolved, err := substituteCatalog(e.Catalogs, d.Ident, d.Range)
		if err != nil {
			return outcome{op: o, err: err}
		}
		d = protocol.Descriptor{Ident: d.Ident, Range: resolved, Parent: d.Parent}
		rng, err = d.ParsedRange()
		if err != nil {
			return outcome{op: o, err: err}
		}
	}

	if pin, ok := e.adoptPin(d); ok {
		return outcome{op: o,resolution: pin, err: nil}
	}

	resolver := e.Resolvers[rng.Kind]
	if resolver == nil {
		return outcome{op: o, err: errors.Errorf("resolve: no resolver registered for range kind %q", rng.Kind)}
	}
	res, err := resolver.Resolve(ctx, d)
	return outcome{op: o,resolution: res, err: err}
}

// adoptPin checks for a lockfile pin: if the descriptor has a
// lockfile pin with a matching (ident, range) and the lockfile is not
// being refreshed, adopt the pinned locator/resolution immediately.
func (e *Engine) adoptPin(d protocol.Descriptor) (*lockfile.Resolution, bool) {
	if e.Pins == nil || e.RefreshLockfile {
		return nil, false
	}
	locator, ok := e.Pins.Descriptors[d]
	if !ok {
		return nil, false
	}
	res, ok := e.Pins.Resolutions[locator]
	return res, ok
}

func (e *Engine) acceptResolution(
	tree *Tree,
	d protocol.Descriptor,
	res *lockfile.Resolution,
	optional map[protocol.Descriptor]bool,
	enqueue func(op),
) {
	locator := res.Locator
	tree.DescriptorToLocator[d] = locator
	if !optional[d] {
		delete(tree.OptionalBuilds, locator)
	}
	if _, exists := tree.LocatorToResolution[locator]; exists {
		return
	}
	tree.LocatorToResolution[locator] = res
	if optional[d] {
		tree.OptionalBuilds[locator] = struct{}{}
	}

	for _, dep := range res.Dependencies {
		child := dep.Descriptor

		// A non-binding child's Parent is normalized away so two
		// descriptors differing only in which parent pulled them in
		// dedup to a single Resolve op.
		// A binding child (link/portal/tarball/folder/patch) keeps a
		// distinct op per enclosing locator, since it cannot be shared.
		if bindsToParent(child) {
			child.Parent = locator.String()
		} else {
			child.Parent = ""
		}

		if _, ok := res.OptionalDependencies[dep.Ident]; ok || optional[d] {
			optional[child] = true
		}

		override := e.Overrides.apply(parentIdentOf(locator), dep.Ident, child.Range)
		if override != child.Range {
			child.Range = override
		}
		enqueue(resolveOp(child))
	}
}

func bindsToParent(d protocol.Descriptor) bool {
	rng, err := d.ParsedRange()
	if err != nil {
		return false
	}
	switch rng.Kind {
	case protocol.RangeLink, protocol.RangePortal, protocol.RangeTarball, protocol.RangeFolder, protocol.RangePatch:
		return true
	default:
		return false
	}
}

func parentIdentOf(l protocol.Locator) *ident.Ident {
	id := l.Ident
	return &id
}
