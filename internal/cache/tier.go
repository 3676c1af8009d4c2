package cache

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// tier is one cache level: a directory plus whether this process may
// write into it (the global tier can be configured read-only, e.g. a
// shared cache mounted from a prior build step).
type tier struct {
	root     string
	writable bool
}

func newTier(root string, writable bool) (*tier, error) {
	if root == "" {
		return nil, nil
	}
	if writable {
		if err := os.MkdirAll(root, 0o775); err != nil {
			return nil, errors.Wrapf(err, "cache: creating tier directory %q", root)
		}
	}
	return &tier{root: root, writable: writable}, nil
}

// read loads path's contents, tolerating a concurrent writer's rename
// racing with this read by retrying a few times on a transient miss.
// A miss that persists across retries is a real cache miss, not an
// error.
func (t *tier) read(path string) ([]byte, bool, error) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, true, nil
		}
		if os.IsNotExist(err) {
			lastErr = err
			time.Sleep(time.Millisecond * time.Duration(5*(i+1)))
			continue
		}
		return nil, false, errors.Wrapf(err, "cache: reading %q", path)
	}
	if os.IsNotExist(lastErr) {
		return nil, false, nil
	}
	return nil, false, lastErr
}

// writeAtomic stages data into a ".tmp-<nonce>" sibling of path and
// renames it into place, so concurrent readers in other processes
// never observe a partially written blob.
func (t *tier) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return errors.Wrapf(err, "cache: creating directory for %q", path)
	}
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o664); err != nil {
		return errors.Wrapf(err, "cache: staging %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "cache: renaming %q into place", path)
	}
	return nil
}
