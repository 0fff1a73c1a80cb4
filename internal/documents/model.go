package documents

import "time"

// Document is an uploaded resume owned by a principal. Optimization sessions
// read the derived text at ExtractedTextKey; the original upload stays at
// StorageKey untouched.
type Document struct {
	ID               string
	UserID           string
	FileName         string
	OriginalFilename string
	MimeType         string
	ContentType      string
	SizeBytes        int64
	StorageProvider  string
	StorageKey       string
	ExtractedTextKey string
	ExtractedAt      *time.Time
	CreatedAt        time.Time
}
