// Package manifest reads and writes package.json documents: a fixed
// set of recognized fields plus arbitrary passthrough for anything
// it doesn't recognize.
package manifest

import (
	"bytes"
	"encoding/json"

	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/pkg/errors"

	"github.com/zpmjs/zpm/internal/ident"
)

// Manifest is a decoded package.json. Raw holds every top-level field
// exactly as read; the typed fields below are projections of it used
// by the rest of the program. Serialize lays the typed fields over a
// copy of Raw before encoding, leaving Raw itself unchanged, so
// round-tripping an unknown field (or one this package doesn't model,
// like `exports`) never loses data.
type Manifest struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Type    string `json:"type,omitempty"`

	Main    string `json:"main,omitempty"`
	Module  string `json:"module,omitempty"`
	Browser string `json:"browser,omitempty"`

	Bin   Bin      `json:"bin,omitempty"`
	Files []string `json:"files,omitempty"`

	PublishConfig map[string]interface{} `json:"publishConfig,omitempty"`
	Workspaces    []string                `json:"workspaces,omitempty"`

	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`

	DependenciesMeta map[string]DependencyMeta `json:"dependenciesMeta,omitempty"`

	Resolutions map[string]string `json:"resolutions,omitempty"`

	Scripts        map[string]string `json:"scripts,omitempty"`
	PackageManager string            `json:"packageManager,omitempty"`

	// Raw carries every top-level field as decoded, including ones with
	// no typed projection above (exports, imports, and anything a newer
	// npm adds that this package doesn't know about yet).
	Raw map[string]json.RawMessage `json:"-"`
}

// DependencyMeta is the per-dependency entry of `dependenciesMeta`.
type DependencyMeta struct {
	Built     bool `json:"built,omitempty"`
	Optional  bool `json:"optional,omitempty"`
	Unplugged bool `json:"unplugged,omitempty"`
}

// Bin is either a single path (bin name defaults to the manifest
// ident's name) or a map of bin name to path.
type Bin struct {
	Single string
	Map    map[string]string
}

func (b Bin) MarshalJSON() ([]byte, error) {
	if b.Map != nil {
		return json.Marshal(b.Map)
	}
	return json.Marshal(b.Single)
}

func (b *Bin) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		b.Single = single
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "manifest: bin is neither a string nor a map")
	}
	b.Map = m
	return nil
}

// Resolve expands Bin into a name-to-path map, using ownIdent's name
// as the single-path form's bin name.
func (b Bin) Resolve(ownIdent ident.Ident) map[string]string {
	if b.Map != nil {
		return b.Map
	}
	if b.Single == "" {
		return nil
	}
	return map[string]string{ownIdent.Name: b.Single}
}

// Parse decodes a package.json document. jsonc tolerates trailing
// commas and `//`/`/* */` comments some hand-edited manifests carry.
func Parse(data []byte) (*Manifest, error) {
	stripped := jsonc.ToJSON(data)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(stripped, &raw); err != nil {
		return nil, errors.Wrap(err, "manifest: invalid JSON")
	}

	m := &Manifest{}
	if err := json.Unmarshal(stripped, m); err != nil {
		return nil, errors.Wrap(err, "manifest: invalid package.json fields")
	}
	m.Raw = raw
	return m, nil
}

// Ident returns the manifest's own package identity.
func (m *Manifest) Ident() (ident.Ident, error) {
	return ident.Parse(m.Name)
}

// ParsedResolutions decodes the `resolutions` map's selector keys.
func (m *Manifest) ParsedResolutions() (map[ResolutionSelector]string, error) {
	out := make(map[ResolutionSelector]string, len(m.Resolutions))
	for raw, replacement := range m.Resolutions {
		sel, err := ParseResolutionSelector(raw)
		if err != nil {
			return nil, err
		}
		out[sel] = replacement
	}
	return out, nil
}

// Serialize renders the manifest back to JSON, folding the typed
// fields over Raw so round-tripping never drops an unrecognized field.
// Fields that are empty on the typed struct are left untouched in Raw
// rather than deleted, so clearing a field in code requires an
// explicit delete from Raw.
func (m *Manifest) Serialize() ([]byte, error) {
	typed, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: marshal typed fields")
	}

	var typedFields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedFields); err != nil {
		return nil, err
	}
	if m.Bin.Single == "" && m.Bin.Map == nil {
		delete(typedFields, "bin")
	}

	merged := make(map[string]json.RawMessage, len(m.Raw)+len(typedFields))
	for k, v := range m.Raw {
		merged[k] = v
	}
	for k, v := range typedFields {
		merged[k] = v
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", " ")
	if err := enc.Encode(merged); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
