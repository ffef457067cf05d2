package svc

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLength = 255

// SanitizeFilename reduces a client supplied name to a single safe path
// element. The result is NFC normalized and never empty.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	if len(name) > maxFilenameLength {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = truncateUTF8(name, maxFilenameLength-len(ext)) + ext
	}
	return name
}

// StoragePath is the blob key for a paste. It is derived once at creation
// and then read from the record.
func StoragePath(slug, filename string) string {
	return slug + "/" + filename
}
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
