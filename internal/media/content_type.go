// Package media classifies the files passing through the relay so that
// the destination server receives an accurate Content-Type for each asset.
package media

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const OctetStream = "application/octet-stream"

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// ContentTypeByName returns the MIME type for the extension of the
// filename provided. Unknown extensions map to application/octet-stream.
func ContentTypeByName(filename string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}

	return OctetStream
}

// ContentTypeForFile classifies the file at the path given. The extension
// table is consulted first; when it has no answer the file contents are
// sniffed instead.
func ContentTypeForFile(path string) string {
	if t := ContentTypeByName(path); t != OctetStream {
		return t
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return OctetStream
	}

	return baseType(mtype.String())
}

// ContentTypeForBytes classifies an in-memory upload. A specific declared
// type (as sent by the client) is kept, otherwise the filename and then
// the content itself are used.
func ContentTypeForBytes(filename string, declared string, data []byte) string {
	if declared != "" && baseType(declared) != OctetStream {
		return declared
	}

	if t := ContentTypeByName(filename); t != OctetStream {
		return t
	}

	return baseType(mimetype.Detect(data).String())
}

// IsTextual reports whether the content type or filename indicate plain text.
func IsTextual(filename string, contentType string) bool {
	return strings.HasPrefix(baseType(contentType), "text/") || strings.EqualFold(filepath.Ext(filename), ".txt")
}

func baseType(contentType string) string {
	if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
		contentType = contentType[:idx]
	}

	return strings.TrimSpace(strings.ToLower(contentType))
}
