// Package emit writes the pipeline's datasets: CSV tables, GeoPackage and
// Shapefile layers, an XLSX preview, PostGIS tables and the run manifest.
// File outputs are written to a temp file beside the target and renamed
// into place.
package emit

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// writeFileAtomic streams fill into a temp file next to path, then renames it.
func writeFileAtomic(path string, fill func(w io.Writer) error) error {
	return replaceAtomic(path, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return eris.Wrap(err, "emit: create temp file")
		}
		bw := bufio.NewWriter(f)
		if err := fill(bw); err != nil {
			_ = f.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return eris.Wrap(err, "emit: flush")
		}
		return eris.Wrap(f.Close(), "emit: close temp file")
	})
}

// replaceAtomic reserves a temp path next to path, lets fill create it, and
// renames it over path on success.
func replaceAtomic(path string, fill func(tmp string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "emit: create output dir")
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "emit: create temp file")
	}
	tmp := f.Name()
	_ = f.Close()
	_ = os.Remove(tmp)
	defer os.Remove(tmp) //nolint:errcheck

	if err := fill(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "emit: rename %s", filepath.Base(path))
	}
	return nil
}
