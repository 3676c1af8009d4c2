// Package resolve implements an asynchronous dataflow scheduler:
// descriptors go in, a ResolutionTree of locators and their
// Resolutions comes out. The scheduler is a concrete, two-op-kind
// specialization (Resolve/Fetch) of a generic ready/running task
// graph — a ready queue, up to N concurrently running goroutines, a
// dependents map driving re-readying, and per-op follow-ups
// discovered as results arrive — implemented as a direct
// goroutine/channel loop rather than a generic library, since this
// program only ever schedules these two op kinds.
package resolve

import "github.com/zpmjs/zpm/internal/protocol"

type opKind int

const (
	opResolve opKind = iota
	opFetch
)

// op is one unit of scheduling. Descriptor is populated for opResolve,
// Locator for opFetch. Both protocol.Descriptor and protocol.Locator
// are comparable value structs, so op itself is comparable and usable
// as a dedup-set key.
type op struct {
	kind       opKind
	descriptor protocol.Descriptor
	locator    protocol.Locator
}

func resolveOp(d protocol.Descriptor) op { return op{kind: opResolve, descriptor: d} }
func fetchOp(l protocol.Locator) op { return op{kind: opFetch, locator: l} }
