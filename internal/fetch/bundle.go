package fetch

import "github.com/zpmjs/zpm/internal/archive"

// bundleTarball implements shared registry/git/url
// prelude: decompress the gzip tarball, strip the leading `package/`
// wrapper segment every registry tarball carries, move `package.json`
// to the front of the entry list, and re-encode as zip — the storage
// format every other component in this program reads packages as.
func bundleTarball(raw []byte) ([]byte, error) {
	tarBytes, err := archive.Decompress(archive.Gzip, raw)
	if err != nil {
		return nil, err
	}
	entries, err := archive.ReadTar(tarBytes)
	if err != nil {
		return nil, err
	}
	entries = archive.StripFirstSegment(entries)
	entries = archive.WithPackageJSONFirst(entries)
	return archive.WriteZip(entries)
}

// bundleDir zips a working tree (a git checkout) with the same
// package.json-first convention as bundleTarball, minus the
// leading-segment strip a checkout doesn't carry.
func bundleDir(root string) ([]byte, error) {
	entries, err := archive.ReadDir(root)
	if err != nil {
		return nil, err
	}
	entries = archive.WithPackageJSONFirst(entries)
	return archive.WriteZip(entries)
}
