package protocol

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/version"
)

// ReferenceKind names one alternative of the Reference enum.
// Reference mirrors Range but names a concrete artifact.
type ReferenceKind string

const (
	ReferenceShorthand      ReferenceKind = "shorthand"
	ReferenceRegistry       ReferenceKind = "registry"
	ReferenceBuiltin        ReferenceKind = "builtin"
	ReferenceTarball        ReferenceKind = "tarball"
	ReferenceFolder         ReferenceKind = "folder"
	ReferenceLink           ReferenceKind = "link"
	ReferencePortal         ReferenceKind = "portal"
	ReferencePatch          ReferenceKind = "patch"
	ReferenceVirtual        ReferenceKind = "virtual"
	ReferenceWorkspaceIdent ReferenceKind = "workspaceIdent"
	ReferenceWorkspacePath  ReferenceKind = "workspacePath"
	ReferenceGit            ReferenceKind = "git"
	ReferenceURL            ReferenceKind = "url"
)

// Reference is the concrete counterpart of Range: it names an
// artifact, not a constraint.
type Reference struct {
	Kind ReferenceKind

	Ident   *ident.Ident      // Registry: alias ident, "npm:ident@version"
	Version *version.Version  // Shorthand, Registry, Builtin

	SourceURL string // Registry: optional trailing "#url" recording where it was fetched from

	Path string // Tarball, Folder, Link, Portal, WorkspacePath

	PatchInner   *Reference  // Patch
	PatchPath    string      // Patch
	PatchVersion string      // Patch: original package version being patched
	PatchHash    string      // Patch: checksum of the patch text

	VirtualInner *Reference  // Virtual
	VirtualHash  string      // Virtual

	WorkspaceIdent *ident.Ident // WorkspaceIdent

	Git *GitLocation  // Git
	URL string        // Url
}

var (
	refNpmRe     = regexp.MustCompile(`^npm:(?:([^@]+)@)?([^#]+)(?:#(.*))?$`)
	refBuiltinRe = regexp.MustCompile(`^builtin:(.*)$`)
	refPatchRe   = regexp.MustCompile(`^patch:(.*)#(.*?)::version=([^&]*)&hash=(.*)$`)
)

// ParseReference decodes a canonical Reference string.
func ParseReference(raw string) (Reference, error) {
	if m := virtualRe.FindStringSubmatch(raw); m != nil {
		inner, err := ParseReference(m[1])
		if err != nil {
			return Reference{}, errors.Wrap(err, "reference: invalid virtual inner")
		}
		return Reference{Kind: ReferenceVirtual, VirtualInner: &inner, VirtualHash: m[2]}, nil
	}

	if m := refPatchRe.FindStringSubmatch(raw); m != nil {
		inner, err := ParseReference(mustURLDecode(m[1]))
		if err != nil {
			return Reference{}, errors.Wrap(err, "reference: invalid patch inner")
		}
		return Reference{
			Kind:         ReferencePatch,
			PatchInner:   &inner,
			PatchPath:    m[2],
			PatchVersion: m[3],
			PatchHash:    m[4],
		}, nil
	}

	if m := refBuiltinRe.FindStringSubmatch(raw); m != nil {
		v, err := version.Parse(m[1])
		if err != nil {
			return Reference{}, errors.Wrap(err, "reference: invalid builtin version")
		}
		return Reference{Kind: ReferenceBuiltin, Version: &v}, nil
	}

	if m := refNpmRe.FindStringSubmatch(raw); m != nil {
		v, err := version.Parse(m[2])
		if err != nil {
			return Reference{}, errors.Wrap(err, "reference: invalid npm version")
		}
		if m[1] == "" {
			return Reference{Kind: ReferenceShorthand, Version: &v}, nil
		}
		id, err := ident.Parse(m[1])
		if err != nil {
			return Reference{}, errors.Wrap(err, "reference: invalid npm ident")
		}
		return Reference{Kind: ReferenceRegistry, Ident: &id, Version: &v, SourceURL: m[3]}, nil
	}

	if m := linkRe.FindStringSubmatch(raw); m != nil {
		return Reference{Kind: ReferenceLink, Path: m[1]}, nil
	}
	if m := portalRe.FindStringSubmatch(raw); m != nil {
		return Reference{Kind: ReferencePortal, Path: m[1]}, nil
	}

	if m := fileRe.FindStringSubmatch(raw); m != nil {
		if tarballSuffix.MatchString(m[1]) {
			return Reference{Kind: ReferenceTarball, Path: m[1]}, nil
		}
		return Reference{Kind: ReferenceFolder, Path: m[1]}, nil
	}
	if m := relativePathRe.FindStringSubmatch(raw); m != nil {
		if tarballSuffix.MatchString(m[1]) {
			return Reference{Kind: ReferenceTarball, Path: raw}, nil
		}
		return Reference{Kind: ReferenceFolder, Path: raw}, nil
	}

	if m := workspaceRe.FindStringSubmatch(raw); m != nil {
		rest := m[1]
		if id, err := ident.Parse(rest); err == nil && rest != "." {
			return Reference{Kind: ReferenceWorkspaceIdent, WorkspaceIdent: &id}, nil
		}
		return Reference{Kind: ReferenceWorkspacePath, Path: rest}, nil
	}

	if git, ok := tryParseGit(raw); ok {
		return Reference{Kind: ReferenceGit, Git: &git}, nil
	}

	if urlRe.MatchString(raw) {
		return Reference{Kind: ReferenceURL, URL: raw}, nil
	}

	return Reference{}, errors.Errorf("reference: %q does not match any known reference form", raw)
}

// Serialize renders the canonical textual form of the reference.
func (r Reference) Serialize() string {
	switch r.Kind {
	case ReferenceShorthand:
		return "npm:" + r.Version.String()
	case ReferenceRegistry:
		base := fmt.Sprintf("npm:%s@%s", r.Ident.String(), r.Version.String())
		if r.SourceURL != "" {
			base += "#" + r.SourceURL
		}
		return base
	case ReferenceBuiltin:
		return "builtin:" + r.Version.String()
	case ReferenceTarball, ReferenceFolder:
		return formatPathRange(r.Path)
	case ReferenceLink:
		return "link:" + r.Path
	case ReferencePortal:
		return "portal:" + r.Path
	case ReferencePatch:
		return fmt.Sprintf("patch:%s#%s::version=%s&hash=%s",
			url.QueryEscape(r.PatchInner.Serialize()), r.PatchPath, r.PatchVersion, r.PatchHash)
	case ReferenceVirtual:
		return fmt.Sprintf("virtual:%s#%s", r.VirtualInner.Serialize(), r.VirtualHash)
	case ReferenceWorkspaceIdent:
		return "workspace:" + r.WorkspaceIdent.String()
	case ReferenceWorkspacePath:
		return "workspace:" + r.Path
	case ReferenceGit:
		return r.Git.String()
	case ReferenceURL:
		return r.URL
	default:
		return ""
	}
}

// PhysicalReference unwraps any Virtual layer, exposing the reference
// that names the actual fetched artifact.
func (r Reference) PhysicalReference() Reference {
	if r.Kind == ReferenceVirtual {
		return r.VirtualInner.PhysicalReference()
	}
	return r
}

// IsLocal reports whether this reference resolves to an on-disk path
// with no fetch step (Link/Portal/WorkspaceIdent/WorkspacePath).
func (r Reference) IsLocal() bool {
	switch r.Kind {
	case ReferenceLink, ReferencePortal, ReferenceWorkspaceIdent, ReferenceWorkspacePath:
		return true
	default:
		return false
	}
}
