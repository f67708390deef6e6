package media

import (
	"context"
	"errors"
	"testing"

	"github.com/memohai/wadesk/internal/config"
)

func TestFFmpegUnavailable(t *testing.T) {
	t.Parallel()

	f := NewFFmpeg(nil, config.MediaConfig{FFmpegPath: "/nonexistent/wadesk-ffmpeg", TranscodeWorkers: 1}, nil)
	if f.Available() {
		t.Fatal("expected transcoder to be unavailable")
	}
	if _, err := f.ToVoice(context.Background(), "in.mp3"); !errors.Is(err, ErrTranscoderUnavailable) {
		t.Fatalf("expected ErrTranscoderUnavailable, got %v", err)
	}
}
