package archive

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"
)

// Algorithm names a compression codec entries can be (de)compressed
// with, per "compress with a named algorithm" entry
// transformation.
type Algorithm string

const (
	Gzip Algorithm = "gzip"
	Zstd Algorithm = "zstd"
)

// Compress runs data through the named algorithm, the same zstd
// codec cacheitem.Create wires up for the local cache tier
// (`cacheitem/create.go`'s `zstd.NewWriter`), plus gzip for fetchers
// pulling already-gzipped registry tarballs back down to raw bytes
// before re-bundling.
func Compress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case Zstd:
		return zstd.Compress(nil, data)
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Errorf("archive: unknown compression algorithm %q", alg)
	}
}

// Decompress reverses Compress.
func Decompress(alg Algorithm, data []byte) ([]byte, error) {
	switch alg {
	case Zstd:
		return zstd.Decompress(nil, data)
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "archive: invalid gzip stream")
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, errors.Errorf("archive: unknown compression algorithm %q", alg)
	}
}
