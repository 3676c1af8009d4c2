package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Cache is a two-tier content-addressed blob store: a required local
// tier under the project, and an optional shared global tier.
// Production of a missing blob is deduplicated within
// this process by key via a singleflight.Group; across processes,
// concurrent producers race harmlessly because every write stages
// into a tmp sibling and renames atomically.
type Cache struct {
	local     *tier
	global    *tier
	globalIdx *touchIndex
	immutable bool
	group     singleflight.Group
}

// New builds a Cache rooted at localRoot (created if missing).
// globalRoot may be empty to disable the global tier; globalWritable
// controls whether this process may populate it or only read from it.
// immutable mirrors the project config flag of the same name: when
// set, any miss in either tier raises ImmutableCacheMissError instead
// of invoking produce.
func New(localRoot, globalRoot string, globalWritable, immutable bool) (*Cache, error) {
	local, err := newTier(localRoot, true)
	if err != nil {
		return nil, err
	}
	global, err := newTier(globalRoot, globalWritable)
	if err != nil {
		return nil, err
	}
	c := &Cache{local: local, global: global, immutable: immutable}
	if global != nil && global.writable {
		c.globalIdx = newTouchIndex(global.root)
	}
	return c, nil
}

type blobResult struct {
	path     string
	data     []byte
	checksum string
}

// UpsertBlob is the core read-through-or-produce path: if either tier
// already holds (key, ext), its bytes are returned (populating the
// local tier from the global one if needed); otherwise produce is
// invoked exactly once per key within this process, the result is
// checksummed and staged into both writable tiers, and returned.
func (c *Cache) UpsertBlob(key Key, ext string, produce func() ([]byte, error)) (string, []byte, string, error) {
	sfKey := keyDigest(key) + "." + ext
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		return c.upsertBlobOnce(key, ext, produce)
	})
	if err != nil {
		return "", nil, "", err
	}
	res := v.(blobResult)
	return res.path, res.data, res.checksum, nil
}

func (c *Cache) upsertBlobOnce(key Key, ext string, produce func() ([]byte, error)) (blobResult, error) {
	localPath := KeyPath(c.local.root, key, ext)

	if data, ok, err := c.local.read(localPath); err != nil {
		return blobResult{}, err
	} else if ok {
		return blobResult{path: localPath, data: data, checksum: checksumOf(data)}, nil
	}

	if c.global != nil {
		globalPath := KeyPath(c.global.root, key, ext)
		if data, ok, err := c.global.read(globalPath); err != nil {
			return blobResult{}, err
		} else if ok {
			if err := c.local.writeAtomic(localPath, data); err != nil {
				return blobResult{}, err
			}
			return blobResult{path: localPath, data: data, checksum: checksumOf(data)}, nil
		}
	}

	if c.immutable {
		return blobResult{}, &ImmutableCacheMissError{Key: key, Ext: ext}
	}

	data, err := produce()
	if err != nil {
		return blobResult{}, err
	}
	if err := c.local.writeAtomic(localPath, data); err != nil {
		return blobResult{}, err
	}
	if c.global != nil && c.global.writable {
		globalPath := KeyPath(c.global.root, key, ext)
		if err := c.global.writeAtomic(globalPath, data); err != nil {
			return blobResult{}, err
		}
		if c.globalIdx != nil {
			if err := c.globalIdx.touch(keyDigest(key)); err != nil {
				return blobResult{}, err
			}
		}
	}
	return blobResult{path: localPath, data: data, checksum: checksumOf(data)}, nil
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UpsertSerialized runs the same deduplicated, two-tier upsert as
// UpsertBlob, with the payload marshaled to and from JSON rather than
// raw bytes. Go methods can't carry their own type parameters, so this
// is a package-level function taking the Cache explicitly.
func UpsertSerialized[T any](c *Cache, key Key, produce func() (T, error)) (string, T, error) {
	var zero T
	path, data, _, err := c.UpsertBlob(key, "json", func() ([]byte, error) {
		v, err := produce()
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return "", zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return "", zero, errors.Wrap(err, "cache: decoding serialized payload")
	}
	return path, out, nil
}
