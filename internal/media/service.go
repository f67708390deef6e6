// Package media moves files between agents and the provider. Outbound files
// are classified, size checked, optionally converted to voice notes and
// uploaded. Inbound media is resolved through the provider on demand and
// streamed through without being stored.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/memohai/wadesk/internal/whatsapp"
)

// Provider is the subset of the WhatsApp client media transfer needs.
type Provider interface {
	UploadMedia(ctx context.Context, r io.Reader, filename, mimeType string) (string, error)
	GetMedia(ctx context.Context, mediaID string) (whatsapp.MediaInfo, error)
	Download(ctx context.Context, mediaURL string) (*http.Response, error)
}

type Service struct {
	provider   Provider
	transcoder Transcoder
	logger     *slog.Logger
}

// NewService builds the media service. A nil transcoder sends voice notes as
// they were uploaded.
func NewService(log *slog.Logger, provider Provider, transcoder Transcoder) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		provider:   provider,
		transcoder: transcoder,
		logger:     log.With(slog.String("service", "media")),
	}
}

// Upload sends a local file to the provider and returns its media id.
func (s *Service) Upload(ctx context.Context, file LocalFile) (Uploaded, error) {
	path := strings.TrimSpace(file.Path)
	if path == "" {
		return Uploaded{}, fmt.Errorf("media path is required")
	}
	name := strings.TrimSpace(file.Name)
	if name == "" {
		name = filepath.Base(path)
	}
	head, err := readHead(path)
	if err != nil {
		return Uploaded{}, err
	}
	mimeType := DetectMime(file.MimeType, name, head)

	voice := file.Voice
	if voice && !IsOgg(mimeType) {
		if converted, ok := s.toVoice(ctx, path); ok {
			defer os.Remove(converted)
			path = converted
			mimeType = "audio/ogg"
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".ogg"
		} else {
			voice = false
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return Uploaded{}, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Uploaded{}, fmt.Errorf("stat media: %w", err)
	}
	kind := KindFor(mimeType)
	if err := CheckSize(kind, info.Size()); err != nil {
		return Uploaded{}, err
	}

	mediaID, err := s.provider.UploadMedia(ctx, f, name, mimeType)
	if err != nil {
		return Uploaded{}, err
	}
	s.logger.Debug("media uploaded",
		slog.String("media_id", mediaID),
		slog.String("kind", string(kind)),
		slog.String("mime_type", mimeType),
		slog.Int64("size", info.Size()),
	)
	return Uploaded{
		MediaID:  mediaID,
		MimeType: mimeType,
		Filename: name,
		Kind:     kind,
		Size:     info.Size(),
		Voice:    voice && kind == KindAudio,
	}, nil
}

func (s *Service) toVoice(ctx context.Context, path string) (string, bool) {
	if s.transcoder == nil {
		return "", false
	}
	out, err := s.transcoder.ToVoice(ctx, path)
	if err != nil {
		s.logger.Warn("voice transcode failed, sending original", slog.String("path", filepath.Base(path)), slog.Any("error", err))
		return "", false
	}
	return out, true
}

// Open resolves mediaID and streams its bytes. Any failure is logged and
// reported as unavailable.
func (s *Service) Open(ctx context.Context, mediaID string) (*Payload, bool) {
	info, ok := s.resolve(ctx, mediaID)
	if !ok {
		return nil, false
	}
	resp, err := s.provider.Download(ctx, info.URL)
	if err != nil {
		s.logger.Warn("media download failed", slog.String("media_id", mediaID), slog.Any("error", err))
		return nil, false
	}
	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	size := info.FileSize
	if size <= 0 {
		size = resp.ContentLength
	}
	return &Payload{Body: resp.Body, MimeType: mimeType, Size: size}, true
}

// Describe returns provider metadata for mediaID without downloading it.
func (s *Service) Describe(ctx context.Context, mediaID string) (Info, bool) {
	info, ok := s.resolve(ctx, mediaID)
	if !ok {
		return Info{}, false
	}
	return Info{
		MediaID:  mediaID,
		MimeType: info.MimeType,
		SHA256:   info.SHA256,
		Size:     info.FileSize,
	}, true
}

func (s *Service) resolve(ctx context.Context, mediaID string) (whatsapp.MediaInfo, bool) {
	mediaID = strings.TrimSpace(mediaID)
	if mediaID == "" {
		return whatsapp.MediaInfo{}, false
	}
	info, err := s.provider.GetMedia(ctx, mediaID)
	if err != nil {
		s.logger.Warn("media resolution failed", slog.String("media_id", mediaID), slog.Any("error", err))
		return whatsapp.MediaInfo{}, false
	}
	return info, true
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open media: %w", err)
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return buf[:n], nil
}
