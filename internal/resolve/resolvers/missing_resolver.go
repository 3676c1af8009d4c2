package resolvers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
)

// MissingPeerDependencyResolver handles RangeMissingPeerDependency
// ("missing!"), the sentinel used to record an unmet peer dependency
// in a virtualized Resolution. Virtualize (virtualize.go) writes that
// sentinel directly into Resolution.MissingPeerDependencies; nothing
// legitimately enqueues "missing!" as its own descriptor, so reaching
// this resolver means a manifest literally declared it as a
// dependency, which has no artifact to resolve to.
type MissingPeerDependencyResolver struct{}

func (MissingPeerDependencyResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	return nil, errors.Errorf("resolve: %s cannot be depended on directly", d)
}

func (MissingPeerDependencyResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	return nil, errors.Errorf("resolve: %s cannot be fetched", locator)
}
