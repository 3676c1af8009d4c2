package fetch

import (
	"context"

	"github.com/zpmjs/zpm/internal/protocol"
)

// UrlFetcher implements Url strategy: a bare HTTP(S)
// URL pointing at a gzipped tarball, bundled the same way a registry
// tarball is.
type UrlFetcher struct{}

func (UrlFetcher) Fetch(ctx context.Context, env *Env, locator protocol.Locator, _ *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}

	path, _, checksum, err := env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		raw, err := getURL(ctx, env, ref.URL)
		if err != nil {
			return nil, err
		}
		return bundleTarball(raw)
	})
	if err != nil {
		return nil, err
	}
	return &PackageData{Locator: locator, Kind: PackageDataZip, ArchivePath: path, Checksum: checksum}, nil
}
