package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// maxZIPEntryBytes caps the decompressed size of an archived transcript.
const maxZIPEntryBytes = 2 << 30

// ExtractZIPSingle extracts the only data file of an archive into destDir
// and returns its path. Directories, dotfiles and macOS resource forks do
// not count.
func ExtractZIPSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var entry *zip.File
	n := 0
	for _, f := range r.File {
		if skipZIPEntry(f) {
			continue
		}
		entry = f
		n++
	}
	if n != 1 {
		return "", eris.Errorf("zip: expected exactly 1 data file, got %d", n)
	}
	return writeZIPEntry(entry, destDir)
}

func skipZIPEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(f.Name), ".")
}

// writeZIPEntry flattens the entry name into destDir.
func writeZIPEntry(f *zip.File, destDir string) (dest string, err error) {
	name := path.Base(f.Name)
	if !filepath.IsLocal(name) {
		return "", eris.Errorf("zip: illegal entry name %q", f.Name)
	}
	if f.UncompressedSize64 > maxZIPEntryBytes {
		return "", eris.Errorf("zip: entry %q is %d bytes, limit %d", f.Name, f.UncompressedSize64, maxZIPEntryBytes)
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	dest = filepath.Join(destDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "zip: close file")
		}
	}()

	n, err := io.Copy(out, io.LimitReader(rc, maxZIPEntryBytes+1))
	if err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}
	if n > maxZIPEntryBytes {
		return "", eris.Errorf("zip: entry %q exceeds %d bytes", f.Name, maxZIPEntryBytes)
	}
	return dest, nil
}
