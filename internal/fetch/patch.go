package fetch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/archive"
	patchpkg "github.com/zpmjs/zpm/internal/patch"
)

// readPatchText locates a Patch reference's diff text. A path rooted
// at "~/" is relative to the project root (Yarn's own convention for
// patches checked into version control); anything else is relative to
// the patch descriptor's own parent context, the same rule Tarball and
// Folder references resolve by.
func readPatchText(env *Env, patchPath string, parent *PackageData) (string, error) {
	if rest := strings.TrimPrefix(patchPath, "~/"); rest != patchPath {
		data, err := os.ReadFile(filepath.Join(env.ProjectRoot, rest))
		if err != nil {
			return "", errors.Wrapf(err, "fetch: reading patch file %q", patchPath)
		}
		return string(data), nil
	}

	if parent == nil {
		return "", errors.Errorf("fetch: patch file %q needs a parent context to resolve relative to", patchPath)
	}
	data, err := readParentFile(parent, patchPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// applyPatchTo runs a unified diff over a fetched package's archive
// entries, rewriting only the entries the patch touches.
func applyPatchTo(inner *PackageData, patchText string) ([]archive.Entry, error) {
	var entries []archive.Entry
	var err error
	if inner.Kind == PackageDataLocal {
		entries, err = archive.ReadDir(inner.LocalPath)
	} else {
		entries, err = readParentArchive(inner)
	}
	if err != nil {
		return nil, err
	}
	return patchpkg.Apply(entries, patchText)
}
