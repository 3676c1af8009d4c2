package resolvers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/lockfile"
	"github.com/zpmjs/zpm/internal/manifest"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/resolve"
	"github.com/zpmjs/zpm/internal/version"
)

// PatchResolver resolves a RangePatch descriptor: resolve the inner
// descriptor down to a concrete reference, then wrap it as a
// Patch reference naming the diff file. The inner descriptor's own
// dependency graph isn't needed here — once the patched artifact is
// fetched, ResolveFetched reads its (already-patched) manifest, same
// as every other kind.
type PatchResolver struct {
	Metadata    *MetadataClient
	ProjectRoot string
}

func (r *PatchResolver) Resolve(ctx context.Context, d protocol.Descriptor) (*lockfile.Resolution, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return nil, err
	}
	inner := *rng.PatchInner

	innerRef, patchVersion, err := r.resolveInner(ctx, inner)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve: %s patch target", d)
	}

	patch := protocol.Reference{
		Kind:         protocol.ReferencePatch,
		PatchInner:   &innerRef,
		PatchPath:    rng.PatchPath,
		PatchVersion: patchVersion,
		PatchHash:    r.hashPatchFile(rng.PatchPath),
	}

	var parent *protocol.Locator
	if d.Parent != "" {
		p, err := protocol.ParseLocator(d.Parent)
		if err != nil {
			return nil, err
		}
		parent = &p
	}

	locator := protocol.NewLocator(d.Ident, patch, parent)
	return nil, &resolve.NeedsFetchError{Locator: locator}
}

// resolveInner settles the descriptor being patched down to a concrete
// Reference without going through the engine's own fetch-then-resolve
// round trip: a registry range picks a version off the same metadata
// document SemverResolver/TagResolver use, and any range that already
// names a concrete artifact (tarball/folder/git/url) is used verbatim.
func (r *PatchResolver) resolveInner(ctx context.Context, d protocol.Descriptor) (protocol.Reference, string, error) {
	rng, err := d.ParsedRange()
	if err != nil {
		return protocol.Reference{}, "", err
	}

	switch rng.Kind {
	case protocol.RangeRegistrySemver, protocol.RangeAnonymousSemver:
		target := targetIdent(d, rng)
		doc, err := r.Metadata.fetchDocument(ctx, target.String())
		if err != nil {
			return protocol.Reference{}, "", err
		}
		semRange, _ := rng.ToSemverRange()
		best, ok := highestSatisfying(doc, semRange)
		if !ok {
			return protocol.Reference{}, "", errors.Errorf("no published version of %s satisfies %s", target, semRange)
		}
		if rng.Ident == nil {
			return protocol.Reference{Kind: protocol.ReferenceShorthand, Version: &best}, best.String(), nil
		}
		return protocol.Reference{Kind: protocol.ReferenceRegistry, Ident: &target, Version: &best}, best.String(), nil

	case protocol.RangeRegistryTag, protocol.RangeAnonymousTag:
		target := targetIdent(d, rng)
		doc, err := r.Metadata.fetchDocument(ctx, target.String())
		if err != nil {
			return protocol.Reference{}, "", err
		}
		raw, ok := doc.DistTags[tagOf(rng)]
		if !ok {
			return protocol.Reference{}, "", errors.Errorf("%s has no dist-tag %q", target, tagOf(rng))
		}
		v, err := version.Parse(raw)
		if err != nil {
			return protocol.Reference{}, "", err
		}
		if rng.Ident == nil {
			return protocol.Reference{Kind: protocol.ReferenceShorthand, Version: &v}, v.String(), nil
		}
		return protocol.Reference{Kind: protocol.ReferenceRegistry, Ident: &target, Version: &v}, v.String(), nil

	case protocol.RangeTarball:
		return protocol.Reference{Kind: protocol.ReferenceTarball, Path: rng.Path}, "", nil
	case protocol.RangeFolder:
		return protocol.Reference{Kind: protocol.ReferenceFolder, Path: rng.Path}, "", nil
	case protocol.RangeGit:
		return protocol.Reference{Kind: protocol.ReferenceGit, Git: rng.Git}, "", nil
	case protocol.RangeURL:
		return protocol.Reference{Kind: protocol.ReferenceURL, URL: rng.URL}, "", nil
	default:
		return protocol.Reference{}, "", errors.Errorf("patch: unsupported inner range kind %q", rng.Kind)
	}
}

// hashPatchFile fingerprints a project-root-relative ("~/...") patch
// file's contents so two otherwise-identical locators that differ only
// in their diff text still get distinct cache keys. A workspace-
// relative patch path can't be hashed until its parent package is
// fetched, so it's left blank; fetch.readPatchText still applies the
// diff correctly either way, since fetch.Registry.fetchPatch never
// consults this field.
func (r *PatchResolver) hashPatchFile(patchPath string) string {
	rest := strings.TrimPrefix(patchPath, "~/")
	if rest == patchPath {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(r.ProjectRoot, rest))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (r *PatchResolver) ResolveFetched(ctx context.Context, locator protocol.Locator, man *manifest.Manifest) (*lockfile.Resolution, error) {
	v := version.Version{}
	if man.Version != "" {
		parsed, err := version.Parse(man.Version)
		if err == nil {
			v = parsed
		}
	}
	return resolutionFromManifest(locator, v, man, nil)
}
