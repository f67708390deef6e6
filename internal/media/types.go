package media

import (
	"io"
	"strings"
)

// Kind is the provider media category a file is sent as.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
)

// KindFor classifies a MIME type. WebP images are sent as stickers.
func KindFor(mimeType string) Kind {
	mt := baseMime(mimeType)
	switch {
	case mt == "image/webp":
		return KindSticker
	case mt == "image/jpeg" || mt == "image/png":
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// LocalFile is a file on disk waiting to be uploaded.
type LocalFile struct {
	Path     string
	Name     string
	MimeType string
	// Voice asks for the file to be sent as a voice note.
	Voice bool
}

// Uploaded is the provider's reference to an uploaded file.
type Uploaded struct {
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	Kind     Kind   `json:"kind"`
	Size     int64  `json:"size"`
	Voice    bool   `json:"voice"`
}

// Info is provider metadata for a stored media reference.
type Info struct {
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Size     int64  `json:"size"`
}

// Payload streams media bytes. The caller closes Body.
type Payload struct {
	Body     io.ReadCloser
	MimeType string
	Size     int64
}

func baseMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}
