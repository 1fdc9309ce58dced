package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// maxEntryBytes caps one extracted member.
const maxEntryBytes = 2 << 30

// ExtractZIP unpacks zipPath into destDir and returns the written paths.
// Directories and macOS resource forks are skipped. With exts given, only
// members whose extension matches one of them (case-insensitively) are kept.
func ExtractZIP(zipPath, destDir string, exts ...string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", filepath.Base(zipPath))
	}
	defer r.Close() //nolint:errcheck

	var paths []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !wanted(f.Name, exts) {
			continue
		}
		p, err := extractMember(f, destDir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// FindByExt returns the first path with the given extension, compared
// case-insensitively. Returns "" when none matches.
func FindByExt(paths []string, ext string) string {
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ext) {
			return p
		}
	}
	return ""
}

func wanted(name string, exts []string) bool {
	if strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(filepath.Base(name), "._") {
		return false
	}
	if len(exts) == 0 {
		return true
	}
	for _, e := range exts {
		if strings.EqualFold(filepath.Ext(name), e) {
			return true
		}
	}
	return false
}

func extractMember(f *zip.File, destDir string) (string, error) {
	dest := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(dest), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: member %q escapes the destination (zip slip)", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	src, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: open member %s", f.Name)
	}
	defer src.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	n, err := io.Copy(out, io.LimitReader(src, maxEntryBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", eris.Wrapf(err, "zip: write %s", f.Name)
	}
	if n > maxEntryBytes {
		return "", eris.Errorf("zip: member %s exceeds %d bytes", f.Name, int64(maxEntryBytes))
	}
	return dest, nil
}
