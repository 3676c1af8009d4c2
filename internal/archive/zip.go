package archive

import (
	"archive/zip"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// ReadZip decodes a zip archive into its entries. archive/zip's
// Reader already implements the standard algorithm (read the
// end-of-central-directory record, then walk central-directory
// records to locate file records) needed here; the one archive.Entry
// requirement it doesn't give us for free is the path-safety check,
// added below.
func ReadZip(data []byte) ([]Entry, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "archive: invalid zip")
	}

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !IsSafe(f.Name) {
			return nil, errors.Errorf("archive: unsafe zip entry name %q", f.Name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "archive: opening %q", f.Name)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "archive: reading %q", f.Name)
		}

		entries = append(entries, Entry{
			Name: f.Name,
			Mode: uint32(f.Mode().Perm()),
			CRC:  f.CRC32,
			Data: body,
		})
	}
	return entries, nil
}

// WriteZip encodes entries to a zip archive, writing them in the
// order given.
func WriteZip(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for _, e := range entries {
		fh := &zip.FileHeader{
			Name:   e.Name,
			Method: zip.Deflate,
		}
		fh.SetMode(modeFromBits(e.Mode))

		fw, err := w.CreateHeader(fh)
		if err != nil {
			return nil, errors.Wrapf(err, "archive: writing header for %q", e.Name)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return nil, errors.Wrapf(err, "archive: writing data for %q", e.Name)
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
