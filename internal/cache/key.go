// Package cache implements a two-tier content-addressed blob store: a
// process-local cache under the project, and an optional shared global
// cache. Every blob is keyed by (Locator, extension) and lives at a
// deterministic path with no subdirectories.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/zpmjs/zpm/internal/protocol"
)

// Key identifies a cached blob: a resolved package plus a tag
// distinguishing what kind of blob it is (e.g. multiple blob kinds
// could exist for one locator — the fetched archive, a derived
// index, ...). The extension passed to KeyPath is the on-disk file
// suffix, kept separate from Key itself so the same key can address
// different representations (".zip" vs ".json").
type Key struct {
	Locator protocol.Locator
	Tag     string
}

// KeyPath returns the deterministic, pure on-disk path for (key, ext)
// under root: <root>/<hex(sha256(canonical(key)))>.<ext>. The
// canonical input is the key's locator text plus its tag, joined by a
// NUL byte — any encoding that is injective over (Locator, Tag)
// satisfies the "deterministic path per key" contract.
func KeyPath(root string, key Key, ext string) string {
	return filepath.Join(root, keyDigest(key)+"."+ext)
}

func keyDigest(key Key) string {
	h := sha256.New()
	h.Write([]byte(key.Locator.String()))
	h.Write([]byte{0})
	h.Write([]byte(key.Tag))
	return hex.EncodeToString(h.Sum(nil))
}
