package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/metrics"
)

// ErrTranscoderUnavailable means no ffmpeg binary could be found.
var ErrTranscoderUnavailable = errors.New("ffmpeg not available")

// Transcoder converts audio files into OGG/Opus voice notes.
type Transcoder interface {
	ToVoice(ctx context.Context, src string) (string, error)
}

// FFmpeg runs ffmpeg on a bounded pool. Each conversion runs in its own
// goroutine so a cancelled caller stops waiting without leaking the slot.
type FFmpeg struct {
	path    string
	pool    *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewFFmpeg(log *slog.Logger, cfg config.MediaConfig, m *metrics.Metrics) *FFmpeg {
	if log == nil {
		log = slog.Default()
	}
	workers := cfg.TranscodeWorkers
	if workers <= 0 {
		workers = 1
	}
	path := strings.TrimSpace(cfg.FFmpegPath)
	if path == "" {
		path = "ffmpeg"
	}
	if resolved, err := exec.LookPath(path); err == nil {
		path = resolved
	} else {
		path = ""
	}
	return &FFmpeg{
		path:    path,
		pool:    semaphore.NewWeighted(int64(workers)),
		logger:  log.With(slog.String("service", "transcoder")),
		metrics: m,
	}
}

func (f *FFmpeg) Available() bool {
	return f != nil && f.path != ""
}

// ToVoice writes an .ogg next to src and returns its path. The caller removes
// the output.
func (f *FFmpeg) ToVoice(ctx context.Context, src string) (string, error) {
	if !f.Available() {
		f.metrics.Transcode("unavailable")
		return "", ErrTranscoderUnavailable
	}
	if err := f.pool.Acquire(ctx, 1); err != nil {
		f.metrics.Transcode("cancelled")
		return "", err
	}
	dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".voice.ogg"

	done := make(chan error, 1)
	go func() {
		defer f.pool.Release(1)
		done <- f.run(ctx, src, dst)
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = os.Remove(dst)
			f.metrics.Transcode("failed")
			return "", err
		}
		f.metrics.Transcode("ok")
		return dst, nil
	case <-ctx.Done():
		f.metrics.Transcode("cancelled")
		go func() {
			<-done
			_ = os.Remove(dst)
		}()
		return "", ctx.Err()
	}
}

func (f *FFmpeg) run(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.path,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vn", "-ac", "1", "-ar", "48000",
		"-c:a", "libopus", "-b:a", "32k", "-application", "voip",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	info, err := os.Stat(dst)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return errors.New("ffmpeg produced an empty file")
	}
	return nil
}
