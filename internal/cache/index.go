package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
)

// touchIndex is a last-touched-time index for blobs written into the
// global tier; stale lists the digests not touched since a cutoff
// time. Nothing in this package evicts entries from it. Multiple processes can write the global tier concurrently, so every
// read-modify-write of the index file is guarded by a cross-process
// advisory lock rather than relying on the atomic-rename trick the
// blobs themselves use (the index is one shared file, not one file
// per key).
type touchIndex struct {
	path string
}

func newTouchIndex(root string) *touchIndex {
	return &touchIndex{path: filepath.Join(root, "index.json")}
}

// touch records now as the last-accessed time for digest, creating or
// updating the index file under its advisory lock.
func (idx *touchIndex) touch(digest string) error {
	lock, err := lockfile.New(idx.path + ".lock")
	if err != nil {
		return errors.Wrap(err, "cache: creating index lock")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := lock.TryLock(); err == nil {
			break
		} else if time.Now().After(deadline) {
			return errors.Wrap(err, "cache: acquiring index lock timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
	defer lock.Unlock()

	entries := map[string]int64{}
	if data, err := os.ReadFile(idx.path); err == nil {
		_ = json.Unmarshal(data, &entries)
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "cache: reading index %q", idx.path)
	}

	entries[digest] = time.Now().Unix()

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "cache: encoding index")
	}
	return os.WriteFile(idx.path, data, 0o664)
}

// stale returns the digests last touched before cutoff, for a garbage
// collection pass to evict.
func (idx *touchIndex) stale(cutoff time.Time) ([]string, error) {
	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache: reading index %q", idx.path)
	}
	entries := map[string]int64{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "cache: decoding index")
	}
	var stale []string
	for digest, ts := range entries {
		if time.Unix(ts, 0).Before(cutoff) {
			stale = append(stale, digest)
		}
	}
	return stale, nil
}
