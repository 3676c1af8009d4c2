// Package protocol implements the closed enumeration of dependency
// Ranges and References and the Descriptor/Locator
// value types built from them. Every variant's textual
// form is the source of truth: Parse and a variant's Serialize round-
// trip for every canonical input.
package protocol

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/version"
)

// RangeKind names one alternative of the Range enum. Declared as a
// string rather than an int so error messages can print it directly.
type RangeKind string

// The full Range enumeration. Order here has no bearing on parse
// priority; the order of the checks in ParseRange sets it.
const (
	RangeMissingPeerDependency RangeKind = "missingPeerDependency"
	RangeBuiltin               RangeKind = "builtin"
	RangeRegistrySemver        RangeKind = "registrySemver"
	RangeRegistryTag           RangeKind = "registryTag"
	RangeLink                  RangeKind = "link"
	RangePortal                RangeKind = "portal"
	RangeTarball               RangeKind = "tarball"
	RangeFolder                RangeKind = "folder"
	RangePatch                 RangeKind = "patch"
	RangeCatalog               RangeKind = "catalog"
	RangeWorkspaceMagic        RangeKind = "workspaceMagic"
	RangeWorkspaceSemver       RangeKind = "workspaceSemver"
	RangeWorkspaceIdent        RangeKind = "workspaceIdent"
	RangeWorkspacePath         RangeKind = "workspacePath"
	RangeGit                   RangeKind = "git"
	RangeURL                   RangeKind = "url"
	RangeAnonymousSemver       RangeKind = "anonymousSemver"
	RangeAnonymousTag          RangeKind = "anonymousTag"
	RangeVirtual               RangeKind = "virtual"
)

// GitLocation is the payload shared by the Git Range and Git
// Reference variants: a clone URL plus an optional treeish
// (commit | tag | semver-in-tag | branch).
type GitLocation struct {
	URL     string
	Treeish string
}

func (g GitLocation) String() string {
	if g.Treeish == "" {
		return g.URL
	}
	return g.URL + "#" + g.Treeish
}

// Range is the tagged union of every dependency-constraint protocol.
// Only the fields relevant to Kind are populated; see the comment on
// each field for which Kind(s) use it.
type Range struct {
	Kind RangeKind

	Ident       *ident.Ident    // RegistrySemver/RegistryTag: optional alias ident before '@'
	SemverRange *version.Range  // Builtin, RegistrySemver, AnonymousSemver, WorkspaceSemver
	Tag         string          // RegistryTag, AnonymousTag

	Path string // Link, Portal, Tarball, Folder

	PatchInner *Descriptor  // Patch: the descriptor being patched
	PatchPath  string       // Patch: path to the .patch file

	Catalog string // Catalog: catalog name, "" means the default catalog

	WorkspaceMagicKind string        // WorkspaceMagic: "^" | "~" | "exact"
	WorkspaceIdent     *ident.Ident  // WorkspaceIdent
	WorkspacePath      string        // WorkspacePath

	Git *GitLocation  // Git
	URL string        // Url

	VirtualInner *Range  // Virtual: the range being virtualized (rarely used; see Reference.Virtual)
	VirtualHash  string  // Virtual: hex hash
}

var (
	builtinRe      = regexp.MustCompile(`^builtin:(.*)$`)
	npmRe          = regexp.MustCompile(`^npm:(?:([^@].*)@)?(.+)$`)
	linkRe         = regexp.MustCompile(`^link:(.*)$`)
	portalRe       = regexp.MustCompile(`^portal:(.*)$`)
	fileRe         = regexp.MustCompile(`^file:(.*)$`)
	relativePathRe = regexp.MustCompile(`^\.{0,2}/(.*)$`)
	tarballSuffix  = regexp.MustCompile(`\.(?:tgz|tar\.gz)$`)
	patchRe        = regexp.MustCompile(`^patch:(.*)#(.*)$`)
	catalogRe      = regexp.MustCompile(`^catalog:(.*)$`)
	workspaceRe    = regexp.MustCompile(`^workspace:(.*)$`)
	urlRe          = regexp.MustCompile(`^https?://.*(?:/.*|\.tgz|\.tar\.gz)$`)
	virtualRe      = regexp.MustCompile(`^virtual:(.*)#([a-f0-9]*)$`)
	tagRe          = regexp.MustCompile(`^[-a-z0-9._^v][-a-z0-9._]*$`)
	gitURLRe       = regexp.MustCompile(`^(?:git\+(?:https?|ssh)|git|ssh)://\S+$`)
	gitDotSuffixRe = regexp.MustCompile(`^https?://\S+\.git(?:#.*)?$`)
	gitShorthandRe = regexp.MustCompile(`^(?:github:)?([\w.-]+)/([\w.-]+?)(?:#(.+))?$`)
)

// ParseRange decodes a canonical Range string, trying each alternative
// in the priority order given by table.
func ParseRange(raw string) (Range, error) {
	if raw == "missing!" {
		return Range{Kind: RangeMissingPeerDependency}, nil
	}

	if m := virtualRe.FindStringSubmatch(raw); m != nil {
		inner, err := ParseRange(m[1])
		if err != nil {
			return Range{}, errors.Wrap(err, "range: invalid virtual inner")
		}
		return Range{Kind: RangeVirtual, VirtualInner: &inner, VirtualHash: m[2]}, nil
	}

	if m := builtinRe.FindStringSubmatch(raw); m != nil {
		sr, err := version.ParseRange(m[1])
		if err != nil {
			return Range{}, errors.Wrap(err, "range: invalid builtin semver range")
		}
		return Range{Kind: RangeBuiltin, SemverRange: &sr}, nil
	}

	if m := npmRe.FindStringSubmatch(raw); m != nil {
		var id *ident.Ident
		if m[1] != "" {
			parsed, err := ident.Parse(m[1])
			if err != nil {
				return Range{}, errors.Wrap(err, "range: invalid npm ident")
			}
			id = &parsed
		}
		if sr, err := version.ParseRange(m[2]); err == nil {
			return Range{Kind: RangeRegistrySemver, Ident: id, SemverRange: &sr}, nil
		}
		if tagRe.MatchString(m[2]) {
			return Range{Kind: RangeRegistryTag, Ident: id, Tag: m[2]}, nil
		}
		return Range{}, errors.Errorf("range: %q is neither a semver range nor a valid tag", m[2])
	}

	if m := linkRe.FindStringSubmatch(raw); m != nil {
		return Range{Kind: RangeLink, Path: m[1]}, nil
	}
	if m := portalRe.FindStringSubmatch(raw); m != nil {
		return Range{Kind: RangePortal, Path: m[1]}, nil
	}

	if m := fileRe.FindStringSubmatch(raw); m != nil {
		if tarballSuffix.MatchString(m[1]) {
			return Range{Kind: RangeTarball, Path: m[1]}, nil
		}
		return Range{Kind: RangeFolder, Path: m[1]}, nil
	}
	if m := relativePathRe.FindStringSubmatch(raw); m != nil {
		if tarballSuffix.MatchString(m[1]) {
			return Range{Kind: RangeTarball, Path: raw}, nil
		}
		return Range{Kind: RangeFolder, Path: raw}, nil
	}

	if m := patchRe.FindStringSubmatch(raw); m != nil {
		inner, err := ParseDescriptor(mustURLDecode(m[1]))
		if err != nil {
			return Range{}, errors.Wrap(err, "range: invalid patch inner descriptor")
		}
		return Range{Kind: RangePatch, PatchInner: &inner, PatchPath: m[2]}, nil
	}

	if m := catalogRe.FindStringSubmatch(raw); m != nil {
		return Range{Kind: RangeCatalog, Catalog: m[1]}, nil
	}

	if m := workspaceRe.FindStringSubmatch(raw); m != nil {
		rest := m[1]
		if rest == "^" || rest == "~" || rest == "exact" {
			return Range{Kind: RangeWorkspaceMagic, WorkspaceMagicKind: rest}, nil
		}
		if sr, err := version.ParseRange(rest); err == nil {
			return Range{Kind: RangeWorkspaceSemver, SemverRange: &sr}, nil
		}
		if id, err := ident.Parse(rest); err == nil {
			return Range{Kind: RangeWorkspaceIdent, WorkspaceIdent: &id}, nil
		}
		return Range{Kind: RangeWorkspacePath, WorkspacePath: rest}, nil
	}

	if git, ok := tryParseGit(raw); ok {
		return Range{Kind: RangeGit, Git: &git}, nil
	}

	if urlRe.MatchString(raw) {
		return Range{Kind: RangeURL, URL: raw}, nil
	}

	if sr, err := version.ParseRange(raw); err == nil {
		return Range{Kind: RangeAnonymousSemver, SemverRange: &sr}, nil
	}

	return Range{Kind: RangeAnonymousTag, Tag: raw}, nil
}

// tryParseGit recognizes the subset of URL-shaped strings that name a
// git remote rather than a downloadable archive: an explicit git
// scheme (`git://`, `ssh://`, `git+https://`, `git+ssh://`), the
// `git@host:path` SCP shorthand, or an `https?://` URL ending in
// `.git`. A bare `https?://.../foo.tgz` is left for ParseRange's Url
// branch instead.
func tryParseGit(raw string) (GitLocation, bool) {
	if gitURLRe.MatchString(raw) || gitDotSuffixRe.MatchString(raw) {
		url, treeish := splitTreeish(raw)
		return GitLocation{URL: url, Treeish: treeish}, true
	}
	if strings.HasPrefix(raw, "git@") {
		url, treeish := splitTreeish(raw)
		return GitLocation{URL: url, Treeish: treeish}, true
	}
	return GitLocation{}, false
}

func splitTreeish(raw string) (string, string) {
	if idx := strings.LastIndex(raw, "#"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, ""
}

func mustURLDecode(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// Serialize renders r in its canonical textual form. serialize(parse(s))
// == s for every canonical s.
func (r Range) Serialize() string {
	switch r.Kind {
	case RangeMissingPeerDependency:
		return "missing!"
	case RangeBuiltin:
		return "builtin:" + r.SemverRange.String()
	case RangeRegistrySemver:
		return formatRegistry(r.Ident, r.SemverRange.String())
	case RangeRegistryTag:
		return formatRegistry(r.Ident, r.Tag)
	case RangeLink:
		return "link:" + r.Path
	case RangePortal:
		return "portal:" + r.Path
	case RangeTarball, RangeFolder:
		return formatPathRange(r.Path)
	case RangePatch:
		return fmt.Sprintf("patch:%s#%s", url.QueryEscape(r.PatchInner.String()), r.PatchPath)
	case RangeCatalog:
		return "catalog:" + r.Catalog
	case RangeWorkspaceMagic:
		return "workspace:" + r.WorkspaceMagicKind
	case RangeWorkspaceSemver:
		return "workspace:" + r.SemverRange.String()
	case RangeWorkspaceIdent:
		return "workspace:" + r.WorkspaceIdent.String()
	case RangeWorkspacePath:
		return "workspace:" + r.WorkspacePath
	case RangeGit:
		return r.Git.String()
	case RangeURL:
		return r.URL
	case RangeAnonymousSemver:
		return r.SemverRange.String()
	case RangeAnonymousTag:
		return r.Tag
	case RangeVirtual:
		return fmt.Sprintf("virtual:%s#%s", r.VirtualInner.Serialize(), r.VirtualHash)
	default:
		return ""
	}
}

func formatRegistry(id *ident.Ident, rest string) string {
	if id == nil {
		return "npm:" + rest
	}
	return fmt.Sprintf("npm:%s@%s", id.String(), rest)
}

func formatPathRange(path string) string {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") || strings.HasPrefix(path, "/") {
		return path
	}
	return "file:" + path
}

// IsWorkspace reports whether r is one of the four workspace: variants.
func (r Range) IsWorkspace() bool {
	switch r.Kind {
	case RangeWorkspaceMagic, RangeWorkspaceSemver, RangeWorkspaceIdent, RangeWorkspacePath:
		return true
	default:
		return false
	}
}

// PhysicalRange unwraps any Virtual layer to expose the range
// underneath, per the invariant that a Virtual reference never nests
// inside another Virtual.
func (r Range) PhysicalRange() Range {
	if r.Kind == RangeVirtual {
		return r.VirtualInner.PhysicalRange()
	}
	return r
}

// ToAnonymousRange strips a Registry range's protocol marker,
// projecting RegistrySemver/RegistryTag down to their Anonymous
// counterpart. Used when resolvers want to report back the matched
// version irrespective of how the caller spelled the protocol.
func (r Range) ToAnonymousRange() Range {
	switch r.Kind {
	case RangeRegistrySemver:
		return Range{Kind: RangeAnonymousSemver, SemverRange: r.SemverRange}
	case RangeRegistryTag:
		return Range{Kind: RangeAnonymousTag, Tag: r.Tag}
	default:
		return r
	}
}

// ToSemverRange extracts the semver.Range backing an AnonymousSemver,
// RegistrySemver, Builtin or WorkspaceSemver range, or ok=false for any
// other kind.
func (r Range) ToSemverRange() (version.Range, bool) {
	switch r.Kind {
	case RangeAnonymousSemver, RangeRegistrySemver, RangeBuiltin, RangeWorkspaceSemver:
		return *r.SemverRange, true
	default:
		return version.Range{}, false
	}
}

// InnerDescriptor returns the descriptor embedded inside an
// ident-qualified Registry range or a Patch range: resolving
// `foo@npm:bar@^1.0.0` requires first resolving the embedded
// `bar@^1.0.0` descriptor.
func (r Range) InnerDescriptor() (Descriptor, bool) {
	switch r.Kind {
	case RangeRegistrySemver:
		if r.Ident == nil {
			return Descriptor{}, false
		}
		return Descriptor{Ident: *r.Ident, Range: Range{Kind: RangeRegistrySemver, SemverRange: r.SemverRange}.Serialize()}, true
	case RangeRegistryTag:
		if r.Ident == nil {
			return Descriptor{}, false
		}
		return Descriptor{Ident: *r.Ident, Range: Range{Kind: RangeRegistryTag, Tag: r.Tag}.Serialize()}, true
	case RangePatch:
		return *r.PatchInner, true
	default:
		return Descriptor{}, false
	}
}
