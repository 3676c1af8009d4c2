package resolve

import (
	"fmt"

	"github.com/zpmjs/zpm/internal/protocol"
)

// NeedsFetchError is returned by a Resolver.Resolve when the range's
// dependency graph can only be discovered by fetching the candidate
// locator's manifest first (git/url/folder/tarball references). The
// engine dispatches a Fetch op for Locator and, once it completes,
// calls Resolver.ResolveFetched to finish the job.
type NeedsFetchError struct {
	Locator protocol.Locator
}

func (e *NeedsFetchError) Error() string {
	return fmt.Sprintf("resolve: %s needs a fetch before it can be resolved", e.Locator.String())
}

// DescriptorError pairs a failed descriptor with the error that
// resolving it produced. Per-descriptor resolution errors are
// collected rather than aborting the run.
type DescriptorError struct {
	Descriptor protocol.Descriptor
	Err        error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("resolve: %s: %s", e.Descriptor.String(), e.Err)
}

func (e *DescriptorError) Unwrap() error { return e.Err }

// FetchFailedError reports a fetch failure for a non-optional locator,
// which aborts the run, annotated with the descriptors that were
// waiting on the failing locator.
type FetchFailedError struct {
	Locator   protocol.Locator
	DependsOn []protocol.Descriptor
	Err       error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("resolve: fetching %s failed: %s (depended on by %d descriptor(s))",
		e.Locator.String(), e.Err, len(e.DependsOn))
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

// ConnectionError marks a transport-level failure (reset connection,
// timeout, DNS hiccup) that a Resolver or Fetcher judges worth retrying
// rather than failing the descriptor outright. On one, the engine
// requeues the op and permanently reduces its in-flight cap by one for
// the remainder of the run, on the theory that the registry or network
// is under load.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "resolve: connection error: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }
