package fetch

import (
	"context"

	"github.com/zpmjs/zpm/internal/protocol"
)

// BuiltinFetcher implements Builtin strategy: the
// artifact's bytes are already compiled into the binary, keyed by
// ident, so there is no network round-trip — only the cache upsert
// needed to give the blob a stable on-disk path the rest of the
// program can address like any other fetched package.
type BuiltinFetcher struct{}

func (BuiltinFetcher) Fetch(_ context.Context, env *Env, locator protocol.Locator, _ *PackageData) (*PackageData, error) {
	data, ok := env.Builtins[locator.Ident]
	if !ok {
		return nil, &BuiltinMissError{Locator: locator}
	}

	path, _, checksum, err := env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return &PackageData{Locator: locator, Kind: PackageDataZip, ArchivePath: path, Checksum: checksum}, nil
}
