package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/protocol"
)

// RegistryFetcher implements Registry strategy: compose
// the tarball URL from the configured registry and the locator, GET
// it, and run it through the shared tarball bundling prelude.
type RegistryFetcher struct{}

func (RegistryFetcher) Fetch(ctx context.Context, env *Env, locator protocol.Locator, _ *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}
	if ref.Version == nil {
		return nil, errors.Errorf("fetch: %s has no version to fetch", locator.String())
	}

	url := registryTarballURL(env.RegistryURL, locator.Ident.String(), ref.Version.String())

	path, _, checksum, err := env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		raw, err := getURL(ctx, env, url)
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

// registryTarballURL mirrors the npm registry's own tarball naming:
// <registry>/<name>/-/<basename>-<version>.tgz, where <basename> is
// the unscoped tail of a scoped name.
func registryTarballURL(base, name, version string) string {
	base = strings.TrimSuffix(base, "/")
	basename := name
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		basename = name[idx+1:]
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", base, name, basename, version)
}
