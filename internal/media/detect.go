package media

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

const sniffLen = 512

// DetectMime picks a MIME type for an upload: the declared type when it says
// something, else the extension, else the sniffed content.
func DetectMime(declared, name string, head []byte) string {
	if mt := baseMime(declared); mt != "" && mt != "application/octet-stream" {
		return normalizeMime(mt)
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if mt := baseMime(mime.TypeByExtension(ext)); mt != "" {
			return normalizeMime(mt)
		}
	}
	if len(head) == 0 {
		return "application/octet-stream"
	}
	return normalizeMime(baseMime(http.DetectContentType(head)))
}

func normalizeMime(mt string) string {
	switch mt {
	case "application/ogg", "audio/opus":
		return "audio/ogg"
	case "image/jpg":
		return "image/jpeg"
	default:
		return mt
	}
}

// IsOgg reports whether mimeType is already a provider voice note container.
func IsOgg(mimeType string) bool {
	return baseMime(mimeType) == "audio/ogg"
}
