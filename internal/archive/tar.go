package archive

import (
	"archive/tar"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ReadTar decodes a (possibly decompressed by the caller) tar stream,
// keeping only regular files. Directory, symlink and every other
// non-regular entry is skipped; an unsafe regular-file name is an
// error.
func ReadTar(data []byte) ([]Entry, error) {
	tr := tar.NewReader(bytes.NewReader(data))

	var entries []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "archive: invalid tar")
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !IsSafe(hdr.Name) {
			return nil, errors.Errorf("archive: unsafe tar entry name %q", hdr.Name)
		}

		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, "archive: reading %q", hdr.Name)
		}
		entries = append(entries, NewEntry(hdr.Name, uint32(hdr.Mode), body))
	}
	return entries, nil
}

// WriteTar encodes entries to an (uncompressed) tar stream in the
// order given.
func WriteTar(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     int64(e.Mode),
			Size:     int64(len(e.Data)),
			Typeflag: tar.TypeReg,
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0644
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, errors.Wrapf(err, "archive: writing header for %q", e.Name)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return nil, errors.Wrapf(err, "archive: writing data for %q", e.Name)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
