// Package lockfile persists the resolved dependency graph: for every
// resolved Locator, the set of Descriptors that mapped to it, the full
// Resolution, and its PackageFlags. This package defines zpm's own
// single lockfile format, using a grouped-key YAML layout.
package lockfile

import (
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/andybalholm/crlf"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zpmjs/zpm/internal/ident"
	"github.com/zpmjs/zpm/internal/protocol"
	"github.com/zpmjs/zpm/internal/version"
)

const documentMetadataKey = "__metadata"
const documentVersion = 1

// PackageFlags is persisted per resolved locator alongside its
// Resolution.
type PackageFlags struct {
	BuildCommands    []string `yaml:"buildCommands,omitempty"`
	PreferExtracted  *bool    `yaml:"preferExtracted,omitempty"`
	SuggestExtracted bool     `yaml:"suggestExtracted,omitempty"`
	Compatible       uint32   `yaml:"compatible,omitempty"`
}

// Resolution is the lockfile value for one resolved Locator.
type Resolution struct {
	Locator protocol.Locator
	Version version.Version

	Requirements map[string]string

	Dependencies         []DependencyEntry
	PeerDependencies     map[ident.Ident]string
	OptionalDependencies map[ident.Ident]struct{}

	MissingPeerDependencies map[ident.Ident]struct{}

	Checksum string
	Flags    PackageFlags
}

// DependencyEntry is one (ident, descriptor) pair of a Resolution's
// ordered dependency list.
type DependencyEntry struct {
	Ident      ident.Ident
	Descriptor protocol.Descriptor
}

// entry is the on-disk shape of one Resolution: grouped-key YAML with
// a flattened version/resolution header and per-kind dependency maps.
type entry struct {
	Version    string `yaml:"version"`
	Resolution string `yaml:"resolution"`

	Dependencies            map[string]string `yaml:"dependencies,omitempty"`
	PeerDependencies        map[string]string `yaml:"peerDependencies,omitempty"`
	OptionalDependencies    []string          `yaml:"optionalDependencies,omitempty"`
	MissingPeerDependencies []string          `yaml:"missingPeerDependencies,omitempty"`

	Checksum string `yaml:"checksum,omitempty"`

	BuildCommands    []string `yaml:"buildCommands,omitempty"`
	PreferExtracted  *bool    `yaml:"preferExtracted,omitempty"`
	SuggestExtracted bool     `yaml:"suggestExtracted,omitempty"`
	Compatible       uint32   `yaml:"compatible,omitempty"`
}

// metadataEntry is the __metadata entry's own shape; it never shares
// a struct with `entry` since both would otherwise need conflicting
// `version` tags (one a document version int, one a package version
// string).
type metadataEntry struct {
	Version int `yaml:"version"`
}

// Document is the decoded/in-memory lockfile: descriptor -> locator
// and locator -> Resolution, per `Lockfile` type.
type Document struct {
	Descriptors map[protocol.Descriptor]protocol.Locator
	Resolutions map[protocol.Locator]*Resolution
	Checksum    string

	hasCRLF bool
}

// NewDocument returns an empty lockfile ready to be populated by the
// resolver.
func NewDocument() *Document {
	return &Document{
		Descriptors: make(map[protocol.Descriptor]protocol.Locator),
		Resolutions: make(map[protocol.Locator]*Resolution),
	}
}

// locatorToDescriptors inverts Descriptors so a locator's entry can
// list every descriptor it satisfies.
func (d *Document) locatorToDescriptors() map[protocol.Locator][]protocol.Descriptor {
	out := make(map[protocol.Locator][]protocol.Descriptor, len(d.Resolutions))
	for descriptor, locator := range d.Descriptors {
		out[locator] = append(out[locator], descriptor)
	}
	return out
}

// Encode writes the lockfile in its canonical, sorted form; per-locator dependencies sorted by ident).
func (d *Document) Encode(w io.Writer) error {
	reverse := d.locatorToDescriptors()

	locators := make([]protocol.Locator, 0, len(d.Resolutions))
	for l := range d.Resolutions {
		locators = append(locators, l)
	}
	sortLocators(locators, d.Resolutions)

	out := make(map[string]interface{}, len(locators)+1)
	out[documentMetadataKey] = metadataEntry{Version: documentVersion}

	for _, locator := range locators {
		res := d.Resolutions[locator]
		descriptors := reverse[locator]
		keyParts := make([]string, len(descriptors))
		for i, desc := range descriptors {
			keyParts[i] = desc.String()
		}
		sort.Strings(keyParts)
		key := strings.Join(keyParts, ", ")
		if key == "" {
			key = locator.String()
		}
		out[key] = toEntry(res)
	}

	if d.hasCRLF {
		w = crlf.NewWriter(w)
	}

	if _, err := io.WriteString(w, "# This file is generated by zpm; manual edits will be lost.\n"); err != nil {
		return errors.Wrap(err, "lockfile: write header")
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == documentMetadataKey {
			return true
		}
		if keys[j] == documentMetadataKey {
			return false
		}
		return keys[i] < keys[j]
	})

	ordered := make([]yamlMapItem, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, yamlMapItem{Key: k, Value: out[k]})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(orderedMap(ordered))
}

func toEntry(res *Resolution) *entry {
	e := &entry{
		Version:    res.Version.String(),
		Resolution: res.Locator.String(),
		Checksum:   res.Checksum,

		BuildCommands:    res.Flags.BuildCommands,
		PreferExtracted:  res.Flags.PreferExtracted,
		SuggestExtracted: res.Flags.SuggestExtracted,
		Compatible:       res.Flags.Compatible,
	}

	if len(res.Dependencies) > 0 {
		e.Dependencies = make(map[string]string, len(res.Dependencies))
		deps := append([]DependencyEntry(nil), res.Dependencies...)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Ident.Less(deps[j].Ident) })
		for _, dep := range deps {
			r, _ := dep.Descriptor.ParsedRange()
			e.Dependencies[dep.Ident.String()] = r.Serialize()
		}
	}
	if len(res.PeerDependencies) > 0 {
		e.PeerDependencies = make(map[string]string, len(res.PeerDependencies))
		for id, rng := range res.PeerDependencies {
			e.PeerDependencies[id.String()] = rng
		}
	}
	e.OptionalDependencies = sortedIdentStrings(res.OptionalDependencies)
	e.MissingPeerDependencies = sortedIdentStrings(res.MissingPeerDependencies)
	return e
}

func sortedIdentStrings(set map[ident.Ident]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id.String())
	}
	sort.Strings(out)
	return out
}

func sortLocators(locators []protocol.Locator, resolutions map[protocol.Locator]*Resolution) {
	sort.Slice(locators, func(i, j int) bool {
		a, b := locators[i], locators[j]
		if a.Ident != b.Ident {
			return a.Ident.Less(b.Ident)
		}
		va, vb := resolutions[a].Version, resolutions[b].Version
		if !va.Equal(vb) {
			return va.Less(vb)
		}
		return a.Reference < b.Reference
	})
}

// Decode parses a zpm lockfile document, preserving the grouped
// descriptor-key -> entry structure it was written with.
func Decode(contents []byte) (*Document, error) {
	hasCRLF := bytes.Contains(contents, []byte("\r\n"))

	var rawNodes map[string]yaml.Node
	if err := yaml.Unmarshal(contents, &rawNodes); err != nil {
		return nil, errors.Wrap(err, "lockfile: invalid YAML")
	}

	metaNode, ok := rawNodes[documentMetadataKey]
	if !ok {
		return nil, errors.New("lockfile: missing __metadata entry")
	}
	var meta metadataEntry
	if err := metaNode.Decode(&meta); err != nil {
		return nil, errors.Wrap(err, "lockfile: invalid __metadata entry")
	}
	if meta.Version > documentVersion {
		return nil, errors.Errorf("lockfile: unsupported document version %d", meta.Version)
	}
	delete(rawNodes, documentMetadataKey)

	raw := make(map[string]*entry, len(rawNodes))
	for key, node := range rawNodes {
		var e entry
		if err := node.Decode(&e); err != nil {
			return nil, errors.Wrapf(err, "lockfile: invalid entry %q", key)
		}
		raw[key] = &e
	}

	doc := NewDocument()
	doc.hasCRLF = hasCRLF

	for key, e := range raw {
		v, err := version.Parse(e.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "lockfile: entry %q has invalid version", key)
		}

		descriptorTexts := strings.Split(key, ", ")
		if _, err := protocol.ParseDescriptor(descriptorTexts[0]); err != nil {
			return nil, errors.Wrapf(err, "lockfile: invalid descriptor key %q", key)
		}
		locator, err := protocol.ParseLocator(e.Resolution)
		if err != nil {
			return nil, errors.Wrapf(err, "lockfile: entry %q has invalid resolution", key)
		}

		res, err := fromEntry(locator, v, e)
		if err != nil {
			return nil, err
		}
		doc.Resolutions[locator] = res

		for _, dtext := range descriptorTexts {
			d, err := protocol.ParseDescriptor(dtext)
			if err != nil {
				return nil, errors.Wrapf(err, "lockfile: invalid descriptor key %q", dtext)
			}
			doc.Descriptors[d] = locator
		}
	}

	return doc, nil
}

func fromEntry(locator protocol.Locator, v version.Version, e *entry) (*Resolution, error) {
	res := &Resolution{
		Locator:  locator,
		Version:  v,
		Checksum: e.Checksum,
		Flags:    PackageFlags{
			BuildCommands:    e.BuildCommands,
			PreferExtracted:  e.PreferExtracted,
			SuggestExtracted: e.SuggestExtracted,
			Compatible:       e.Compatible,
		},
	}

	for name, rng := range e.Dependencies {
		depIdent, err := ident.Parse(name)
		if err != nil {
			return nil, errors.Wrapf(err, "lockfile: invalid dependency ident %q", name)
		}
		r, err := protocol.ParseRange(rng)
		if err != nil {
			return nil, errors.Wrapf(err, "lockfile: invalid dependency range %q", rng)
		}
		res.Dependencies = append(res.Dependencies, DependencyEntry{
			Ident:      depIdent,
			Descriptor: protocol.NewDescriptor(depIdent, r, nil),
		})
	}
	sort.Slice(res.Dependencies, func(i, j int) bool {
		return res.Dependencies[i].Ident.Less(res.Dependencies[j].Ident)
	})

	if len(e.PeerDependencies) > 0 {
		res.PeerDependencies = make(map[ident.Ident]string, len(e.PeerDependencies))
		for name, rng := range e.PeerDependencies {
			id, err := ident.Parse(name)
			if err != nil {
				return nil, err
			}
			res.PeerDependencies[id] = rng
		}
	}
	res.OptionalDependencies = toIdentSet(e.OptionalDependencies)
	res.MissingPeerDependencies = toIdentSet(e.MissingPeerDependencies)

	return res, nil
}

func toIdentSet(names []string) map[ident.Ident]struct{} {
	if len(names) == 0 {
		return nil
	}
	out := make(map[ident.Ident]struct{}, len(names))
	for _, n := range names {
		if id, err := ident.Parse(n); err == nil {
			out[id] = struct{}{}
		}
	}
	return out
}

// yamlMapItem/orderedMap preserve the deliberate __metadata-first,
// then-lexicographic key order on encode; yaml.v3 doesn't otherwise
// guarantee map iteration order.
type yamlMapItem struct {
	Key string
	Value interface{}
}

type orderedMap []yamlMapItem

func (m orderedMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, item := range m {
		keyNode := &yaml.Node{}
		if err := keyNode.Encode(item.Key); err != nil {
			return nil, err
		}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(item.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valueNode)
	}
	return node, nil
}
