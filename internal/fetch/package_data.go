// Package fetch implements the per-reference-variant fetch strategies:
// given a Locator and the install context, produce the PackageData
// the linker and build scheduler need.
package fetch

import "github.com/zpmjs/zpm/internal/protocol"

// PackageDataKind discriminates PackageData's two shapes: a zip-backed
// archive living in the cache, or a local on-disk path with no
// download (workspace/link/portal references).
type PackageDataKind int

const (
	PackageDataZip PackageDataKind = iota
	PackageDataLocal
)

// PackageData is a fetched package, return value of
// every Fetcher.
type PackageData struct {
	Locator protocol.Locator
	Kind    PackageDataKind

	// Zip-backed fields.
	ArchivePath string  // path to the zip blob in the local cache tier
	Checksum    string  // sha256 of the archive bytes

	// Local fields.
	LocalPath string // absolute filesystem path
}
