package media

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Provider size limits per kind.
const (
	MaxImageBytes    int64 = 5 * 1024 * 1024
	MaxVideoBytes    int64 = 16 * 1024 * 1024
	MaxAudioBytes    int64 = 16 * 1024 * 1024
	MaxDocumentBytes int64 = 100 * 1024 * 1024
	MaxStickerBytes  int64 = 500 * 1024
)

// MaxUploadBytes bounds any single staged upload.
const MaxUploadBytes = MaxDocumentBytes

// LimitFor returns the size limit for kind.
func LimitFor(kind Kind) int64 {
	switch kind {
	case KindImage:
		return MaxImageBytes
	case KindVideo:
		return MaxVideoBytes
	case KindAudio:
		return MaxAudioBytes
	case KindSticker:
		return MaxStickerBytes
	default:
		return MaxDocumentBytes
	}
}

// CheckSize rejects empty files and files over the limit for kind.
func CheckSize(kind Kind, size int64) error {
	if size <= 0 {
		return ErrEmptyFile
	}
	if max := LimitFor(kind); size > max {
		return fmt.Errorf("%w: %s is %s, max %s", ErrFileTooLarge, kind,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(max)))
	}
	return nil
}
