package manifest

import "github.com/zpmjs/zpm/internal/ident"

// Extension is a synthetic set of dependency/peer fields merged onto a
// fetched manifest before resolution continues, for patching a
// broken upstream manifest without forking it.
type Extension struct {
	Dependencies     map[string]string
	PeerDependencies map[string]string
}

// Extensions is a project-level table of Extension entries keyed by
// the ident whose manifest they augment. It has no direct counterpart
// in package.json and is not carried on any one manifest; nothing in
// this module decodes one from configuration, so a table exists only
// where a caller builds it with NewExtensions.
type Extensions struct {
	byIdent map[ident.Ident]Extension
}

// NewExtensions builds an Extensions table from a raw ident-to-entry
// map.
func NewExtensions(entries map[ident.Ident]Extension) *Extensions {
	return &Extensions{byIdent: entries}
}

// Apply returns a copy of man with id's extension (if any) merged in:
// every entry in Dependencies/PeerDependencies is added only when the
// manifest doesn't already declare that name, so an extension patches
// gaps rather than overriding what upstream actually published.
func (e *Extensions) Apply(id ident.Ident, man *Manifest) *Manifest {
	if e == nil || man == nil {
		return man
	}
	ext, ok := e.byIdent[id]
	if !ok {
		return man
	}

	out := *man
	out.Dependencies = mergeMissing(man.Dependencies, ext.Dependencies)
	out.PeerDependencies = mergeMissing(man.PeerDependencies, ext.PeerDependencies)
	return &out
}

func mergeMissing(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}
