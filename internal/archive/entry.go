// Package archive reads and writes the zip and tar entry streams
// fetchers and the patch engine operate on. Every
// archive, regardless of codec, is modeled as an ordered list of
// Entry values; codec-specific concerns (central directory layout,
// octal header fields, compression) live behind ReadZip/WriteZip and
// ReadTar/WriteTar.
package archive

import (
	"hash/crc32"
	"os"
	"path"
	"strings"
)

// Entry is one file record of an archive: name, Unix mode bits, CRC32
// of Data, and the file's raw bytes. Directories and symlinks are not
// modeled as separate entry kinds — fetchers only ever produce package
// archives of regular files, per "regular files (type 0)"
// restriction on the tar codec.
type Entry struct {
	Name string
	Mode uint32
	CRC  uint32
	Data []byte
}

// NewEntry builds an Entry, computing its CRC from Data.
func NewEntry(name string, mode uint32, data []byte) Entry {
	return Entry{Name: name, Mode: mode, CRC: crc32.ChecksumIEEE(data), Data: data}
}

// RecomputeCRC refreshes CRC from the entry's current Data, for
// transformations that rewrite file contents in place (e.g. patch
// application).
func (e Entry) RecomputeCRC() Entry {
	e.CRC = crc32.ChecksumIEEE(e.Data)
	return e
}

// WithPackageJSONFirst reorders entries so a `package.json` entry (at
// any depth) sorts to the front, the convention calls out
// so a manifest can be peeked without decoding the whole archive.
func WithPackageJSONFirst(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	rest := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if path.Base(e.Name) == "package.json" {
			out = append(out, e)
		} else {
			rest = append(rest, e)
		}
	}
	return append(out, rest...)
}

// StripFirstSegment removes the first "/"-separated path component of
// every entry's name (the way a tarball fetched from the registry
// wraps its contents in a single top-level "package/" directory).
func StripFirstSegment(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if idx := strings.IndexByte(e.Name, '/'); idx >= 0 {
			out[i].Name = e.Name[idx+1:]
		} else {
			out[i].Name = ""
		}
	}
	return out
}

// StripPrefix removes a literal path prefix from every entry's name,
// leaving names that don't carry it untouched.
func StripPrefix(entries []Entry, prefix string) []Entry {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if strings.HasPrefix(e.Name, prefix) {
			out[i].Name = e.Name[len(prefix):]
		}
	}
	return out
}

// PrefixWith prepends a path prefix to every entry's name, the inverse
// of StripPrefix; used to nest a patched package back under its
// original subpath inside a workspace tarball.
func PrefixWith(entries []Entry, prefix string) []Entry {
	prefix = strings.TrimSuffix(prefix, "/")
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Name = path.Join(prefix, e.Name)
	}
	return out
}

// modeFromBits converts a raw Unix permission bitmask into an
// os.FileMode carrying only the permission bits archive writers need.
func modeFromBits(bits uint32) os.FileMode {
	return os.FileMode(bits) & os.ModePerm
}

// IsSafe reports whether name is safe to extract: no "..", no
// backslash, no absolute path.
func IsSafe(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, "\\") {
		return false
	}
	if path.IsAbs(name) {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
