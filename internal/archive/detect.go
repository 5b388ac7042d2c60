package archive

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
)

// Content kinds returned by Sniff.
const (
	KindZip  = "zip"
	KindRar  = "rar"
	Kind7z   = "7z"
	KindNone = ""
)

// Sniff returns the archive kind of path judged by content, or KindNone.
func Sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindNone, err
	}
	defer f.Close()
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return KindNone, err
	}
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return KindNone, nil
	}
	switch kind.Extension {
	case "rar":
		return KindRar, nil
	case "7z":
		return Kind7z, nil
	case "zip", "xlsx", "docx", "pptx", "epub", "jar":
		return KindZip, nil
	}
	return KindNone, nil
}

// IsDisguisedArchive reports whether a file named like a spreadsheet is in
// fact an archive: rar or 7z content, or a zip without a workbook part.
func IsDisguisedArchive(path string) (kind string, ok bool) {
	kind, err := Sniff(path)
	if err != nil {
		return KindNone, false
	}
	switch kind {
	case KindRar, Kind7z:
		return kind, true
	case KindZip:
		return kind, !isOOXMLWorkbook(path)
	}
	return KindNone, false
}

func isOOXMLWorkbook(path string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		// A zip we cannot list is left to the spreadsheet readers to reject.
		return true
	}
	defer r.Close()
	for _, f := range r.File {
		name := strings.ToLower(f.Name)
		if name == "[content_types].xml" || strings.HasPrefix(name, "xl/") {
			return true
		}
	}
	return false
}

// spreadsheetExts are the outputs extraction hands on to the reader.
var spreadsheetExts = map[string]bool{
	".xlsx": true, ".xlsm": true, ".xls": true, ".csv": true,
	".html": true, ".htm": true, ".xml": true,
}

// IsSpreadsheetName reports whether name has a spreadsheet-like extension.
func IsSpreadsheetName(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	return spreadsheetExts[strings.ToLower(name[i:])]
}
