package linker

import (
	"crypto/sha1"
	"encoding/hex"
	"path"
	"strings"

	"github.com/zpmjs/zpm/internal/archive"
	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
)

// sentinelExtensions are the file extensions that force extraction:
// native addon sources and build artifacts that can't be loaded
// straight out of a zip.
var sentinelExtensions = map[string]struct{}{
	".exe": {}, ".bin": {}, ".h": {}, ".hh": {}, ".hpp": {},
	".c": {}, ".cc": {}, ".cpp": {}, ".java": {}, ".jar": {}, ".node": {},
}

// ShouldUnplug decides whether to extract a zip-backed package to disk
// rather than link it as-is. rootMeta is the root manifest's own
// dependenciesMeta entry for this package's ident, if any (its
// "unplugged" flag takes precedence over the package's own).
func ShouldUnplug(man *manifest.Manifest, res *lockfile.Resolution, rootMeta *manifest.DependencyMeta, entries []archive.Entry) bool {
	if rootMeta != nil && rootMeta.Unplugged {
		return true
	}
	if res != nil {
		if res.Flags.PreferExtracted != nil && *res.Flags.PreferExtracted {
			return true
		}
		if len(res.Flags.BuildCommands) > 0 {
			return true
		}
	}
	for _, e := range entries {
		if path.Base(e.Name) == "binding.gyp" {
			return true
		}
		if _, ok := sentinelExtensions[strings.ToLower(path.Ext(e.Name))]; ok {
			return true
		}
	}
	return false
}

// LocatorSlug names the per-locator directory every on-disk layout
// (pnpm store, unplugged tree) keys on: the ident's filesystem-safe
// form plus a short hash of the full locator text, so two references
// to the same ident at different versions/protocols never collide.
func LocatorSlug(identText, locatorText string) string {
	h := sha1.Sum([]byte(locatorText))
	safe := strings.ReplaceAll(identText, "/", "-")
	return safe + "-" + hex.EncodeToString(h[:])[:10]
}

// IdentSubdir is the path segment an ident contributes under a
// locator slug directory, preserving the scope/name split so a
// scoped package still unpacks to `@scope/name` the way node's own
// resolver expects.
func IdentSubdir(id ident.Ident) string {
	return id.String()
}
