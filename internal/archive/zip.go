package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/brensch/tenderscan/internal/apperr"
)

// Entries that claim a larger uncompressed size are skipped.
const maxEntrySize = 2 << 30

// EntryErrors lists members of an archive that could not be extracted while
// the rest of it was. Extract returns it together with the files it wrote.
type EntryErrors []Failure

func (e EntryErrors) Error() string {
	msgs := make([]string, len(e))
	for i, f := range e {
		msgs[i] = f.Err.Error()
	}
	return fmt.Sprintf("%d archive entries failed: %s", len(e), strings.Join(msgs, "; "))
}

// extractZip writes every regular file of the zip at path under dest and
// returns their paths. A failed entry is reported as a Failure named
// <archive>!<entry> and does not stop the remaining entries.
func extractZip(path, dest string) ([]string, EntryErrors, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, apperr.New(apperr.KindArchiveCorrupt, "open zip", err).WithPath(path)
	}
	defer r.Close()

	var (
		out    []string
		failed EntryErrors
	)
	fail := func(name string, err error) {
		member := path + "!" + name
		failed = append(failed, Failure{Path: member, Err: apperr.New(apperr.KindArchiveCorrupt, "extract entry", err).WithPath(member)})
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := entryName(f)
		target, err := safeJoin(dest, name)
		if err != nil {
			fail(name, err)
			continue
		}
		if f.UncompressedSize64 > maxEntrySize {
			fail(name, fmt.Errorf("entry %s too large: %d bytes", name, f.UncompressedSize64))
			continue
		}
		if err := writeEntry(f, target); err != nil {
			fail(name, fmt.Errorf("entry %s: %w", name, err))
			continue
		}
		out = append(out, target)
	}
	if len(out) == 0 && len(failed) > 0 {
		errs := make([]error, len(failed))
		for i, f := range failed {
			errs[i] = f.Err
		}
		return nil, nil, apperr.New(apperr.KindArchiveCorrupt, "extract zip", errors.Join(errs...)).WithPath(path)
	}
	return out, failed, nil
}

// entryName decodes names written by Windows archivers in CP866 without the
// UTF-8 flag.
func entryName(f *zip.File) string {
	if !f.NonUTF8 && utf8.ValidString(f.Name) {
		return f.Name
	}
	decoded, err := charmap.CodePage866.NewDecoder().String(f.Name)
	if err != nil {
		return f.Name
	}
	return decoded
}

// safeJoin rejects entries that would escape dest.
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("entry %q escapes extraction directory", name)
	}
	return target, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		rc.Close()
		return err
	}
	_, copyErr := io.Copy(out, io.LimitReader(rc, maxEntrySize))
	closeOutErr := out.Close()
	closeRcErr := rc.Close()
	if err := errors.Join(copyErr, closeOutErr, closeRcErr); err != nil {
		os.Remove(target)
		return err
	}
	return nil
}

// concatParts writes the parts of g, in ascending order, into one file named
// <base>_combined.<ext> under dir.
func concatParts(g Group, dir string) (string, error) {
	combined := filepath.Join(dir, g.Base+"_combined."+g.Ext)
	out, err := os.Create(combined)
	if err != nil {
		return "", err
	}
	for _, p := range g.Parts {
		in, err := os.Open(p.Path)
		if err != nil {
			out.Close()
			os.Remove(combined)
			return "", err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(combined)
			return "", fmt.Errorf("append %s: %w", filepath.Base(p.Path), err)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(combined)
		return "", err
	}
	return combined, nil
}
