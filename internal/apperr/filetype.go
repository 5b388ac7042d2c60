package apperr

import "strings"

// File error types persisted with each failed file.
const (
	FileErrorOpen     = "open_error"
	FileErrorParse    = "parse_error"
	FileErrorTimeout  = "timeout"
	FileErrorResource = "resource_error"
	FileErrorUnknown  = "unknown"
)

// FileErrorType maps err onto the closed set of file error types. Classified
// errors map by kind; anything else falls back to keywords in the message.
func FileErrorType(err error) string {
	if err == nil {
		return FileErrorUnknown
	}
	switch KindOf(err) {
	case KindVerificationTimeout:
		return FileErrorTimeout
	case KindResource:
		return FileErrorResource
	case KindParse:
		return FileErrorParse
	case KindArchiveCorrupt, KindNotFound:
		return FileErrorOpen
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "таймаут"):
		return FileErrorTimeout
	case strings.Contains(msg, "memory"), strings.Contains(msg, "памят"):
		return FileErrorResource
	case strings.Contains(msg, "open"), strings.Contains(msg, "открыть"):
		return FileErrorOpen
	case strings.Contains(msg, "parse"), strings.Contains(msg, "парсинг"):
		return FileErrorParse
	}
	return FileErrorUnknown
}
