package fetch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/protocol"
)

// TarballFetcher implements Tarball strategy: the
// reference's path names a single gzipped tarball file relative to
// the parent's fetched context, bundled the same way a registry
// tarball is.
type TarballFetcher struct{}

func (TarballFetcher) Fetch(_ context.Context, env *Env, locator protocol.Locator, parent *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, &MissingParentError{Locator: locator}
	}

	path, _, checksum, err := env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		raw, err := readParentFile(parent, ref.Path)
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

// FolderFetcher implements Folder strategy: the
// reference's path names a subdirectory of the parent's fetched
// context, zipped directly with no leading-segment strip.
type FolderFetcher struct{}

func (FolderFetcher) Fetch(_ context.Context, env *Env, locator protocol.Locator, parent *PackageData) (*PackageData, error) {
	ref, err := locator.ParsedReference()
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, &MissingParentError{Locator: locator}
	}

	path, _, checksum, err := env.Cache.UpsertBlob(cacheKeyFor(locator), "zip", func() ([]byte, error) {
		entries, err := readParentSubtree(parent, ref.Path)
		if err != nil {
			return nil, err
		}
		entries = archive.WithPackageJSONFirst(entries)
		return archive.WriteZip(entries)
	})
	if err != nil {
		return nil, err
	}
	return &PackageData{Locator: locator, Kind: PackageDataZip, ArchivePath: path, Checksum: checksum}, nil
}

// readParentFile reads one file at relPath out of parent's fetched
// context, whether that context is an on-disk directory or a zip
// blob staged in the cache.
func readParentFile(parent *PackageData, relPath string) ([]byte, error) {
	if parent.Kind == PackageDataLocal {
		data, err := os.ReadFile(filepath.Join(parent.LocalPath, relPath))
		return data, errors.Wrapf(err, "fetch: reading %q from parent", relPath)
	}

	entries, err := readParentArchive(parent)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == relPath {
			return e.Data, nil
		}
	}
	return nil, errors.Errorf("fetch: %q not found in parent archive", relPath)
}

// readParentSubtree returns the entries of parent's fetched context
// under relPath, renamed relative to relPath itself.
func readParentSubtree(parent *PackageData, relPath string) ([]archive.Entry, error) {
	if parent.Kind == PackageDataLocal {
		return archive.ReadDir(filepath.Join(parent.LocalPath, relPath))
	}

	entries, err := readParentArchive(parent)
	if err != nil {
		return nil, err
	}
	prefix := relPath
	filtered := make([]archive.Entry, 0, len(entries))
	for _, e := range entries {
		if hasPathPrefix(e.Name, prefix) {
			filtered = append(filtered, e)
		}
	}
	return archive.StripPrefix(filtered, prefix), nil
}

func readParentArchive(parent *PackageData) ([]archive.Entry, error) {
	data, err := os.ReadFile(parent.ArchivePath)
	if err != nil {
		return nil, errors.Wrap(err, "fetch: reading parent archive blob")
	}
	return archive.ReadZip(data)
}

func hasPathPrefix(name, prefix string) bool {
	prefix = filepath.ToSlash(prefix)
	if len(prefix) == 0 {
		return true
	}
	if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return len(name) > len(prefix) && name[:len(prefix)] == prefix
}
