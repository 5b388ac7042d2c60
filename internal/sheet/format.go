package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
)

// Format is the logical format of a document as judged by its content.
type Format string

const (
	FormatXLSX        Format = "xlsx"
	FormatXLS         Format = "xls"
	FormatCSV         Format = "csv"
	FormatHTML        Format = "html"
	FormatXML         Format = "xml"
	FormatArchive     Format = "archive"
	FormatUnknownXLSX Format = "unknown_xlsx"
	FormatUnknownXLS  Format = "unknown_xls"
	FormatUnknown     Format = "unknown"
	FormatCorrupted   Format = "corrupted"
)

const headerSize = 8192

var (
	magicZip = []byte("PK\x03\x04")
	magicOLE = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	bomUTF8  = []byte{0xEF, 0xBB, 0xBF}
)

// DetectFormat classifies path by its first bytes. The extension is only
// consulted when the content is inconclusive.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatCorrupted, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatCorrupted, fmt.Errorf("read header %s: %w", path, err)
	}
	return DetectBytes(head[:n], filepath.Ext(path)), nil
}

// DetectBytes classifies a file header. ext may be empty.
func DetectBytes(head []byte, ext string) Format {
	if len(head) == 0 {
		return FormatCorrupted
	}
	switch {
	case bytes.HasPrefix(head, magicZip):
		return FormatXLSX
	case bytes.HasPrefix(head, magicOLE):
		return FormatXLS
	case isCompressed(head):
		return FormatArchive
	}

	text := bytes.TrimPrefix(head, bomUTF8)
	trimmed := bytes.TrimLeft(text, " \t\r\n")
	lower := bytes.ToLower(trimmed[:min(len(trimmed), 256)])
	switch {
	case bytes.HasPrefix(lower, []byte("<!doctype html")),
		bytes.HasPrefix(lower, []byte("<html")),
		bytes.HasPrefix(lower, []byte("<table")):
		return FormatHTML
	case bytes.HasPrefix(lower, []byte("<?xml")):
		if bytes.Contains(lower, []byte("<html")) {
			return FormatHTML
		}
		return FormatXML
	}
	if looksDelimited(text) {
		return FormatCSV
	}

	switch strings.ToLower(ext) {
	case ".xlsx", ".xlsm":
		return FormatUnknownXLSX
	case ".xls":
		return FormatUnknownXLS
	}
	return FormatUnknown
}

// isCompressed reports whether head is a rar, 7z or other compressed stream
// named like a spreadsheet.
func isCompressed(head []byte) bool {
	kind, err := filetype.Match(head)
	if err != nil {
		return false
	}
	switch kind.Extension {
	case "rar", "7z", "gz", "bz2", "xz", "zst", "tar", "cab":
		return true
	}
	return false
}

// looksDelimited reports whether b is text with a delimiter in its first line.
// Windows-1251 text is not valid UTF-8, so control bytes decide instead.
func looksDelimited(b []byte) bool {
	if bytes.IndexByte(b, 0) >= 0 {
		return false
	}
	if !utf8.Valid(b) {
		control := 0
		for _, c := range b {
			if c < 0x20 && c != '\t' && c != '\r' && c != '\n' {
				control++
			}
		}
		if control*10 > len(b) {
			return false
		}
	}
	line := b
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line = b[:i]
	}
	return bytes.ContainsAny(line, ";,\t")
}
