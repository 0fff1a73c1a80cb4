package util

import (
	"errors"
	"strings"
)

// maxFileNameLen keeps sanitized names well under the S3 key length cap
// after the user hash and document prefixes are joined in.
const maxFileNameLen = 128

var errInvalidFileName = errors.New("invalid file name")

// SanitizeFileName maps a user-supplied file name onto the character set we
// allow in object keys. Traversal patterns are rejected outright; anything
// outside [A-Za-z0-9._ -] becomes an underscore so presigned URLs never need
// escaping.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errInvalidFileName
	}
	s := strings.TrimSpace(name)
	if s == "" {
		return "", errInvalidFileName
	}
	if len(s) > maxFileNameLen {
		s = s[len(s)-maxFileNameLen:]
	}

	var b strings.Builder
	b.Grow(len(s))
	kept := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			b.WriteByte(ch)
			kept++
		case ch == '.' || ch == '-' || ch == '_' || ch == ' ':
			b.WriteByte(ch)
		default:
			b.WriteByte('_')
		}
	}
	if kept == 0 {
		return "", errInvalidFileName
	}
	return b.String(), nil
}
