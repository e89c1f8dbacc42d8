package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for splitting.
// Only native PDFs are supported; scanned images need OCR upstream.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsSupported reports whether a file extension is accepted for ingestion.
func IsSupported(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}
