package cache

import "fmt"

// ImmutableCacheMissError is returned by UpsertBlob/UpsertSerialized
// when the cache is configured immutable and the key
// is not already present in either tier. No file is written.
type ImmutableCacheMissError struct {
	Key Key
	Ext string
}

func (e *ImmutableCacheMissError) Error() string {
	return fmt.Sprintf("cache: immutable cache miss for %s.%s", e.Key.Locator.String(), e.Ext)
}
