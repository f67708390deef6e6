package media

import "testing"

func TestDetectMime(t *testing.T) {
	t.Parallel()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	tests := []struct {
		name     string
		declared string
		file     string
		head     []byte
		want     string
	}{
		{name: "declared wins", declared: "image/jpeg", file: "a.png", head: png, want: "image/jpeg"},
		{name: "declared parameters stripped", declared: "audio/ogg; codecs=opus", file: "a.bin", want: "audio/ogg"},
		{name: "octet stream falls through to extension", declared: "application/octet-stream", file: "a.pdf", want: "application/pdf"},
		{name: "extension", file: "photo.PNG", want: "image/png"},
		{name: "webp extension", file: "s.webp", want: "image/webp"},
		{name: "sniffed", file: "noext", head: png, want: "image/png"},
		{name: "sniffed ogg is audio", file: "voice", head: []byte("OggS\x00\x02"), want: "audio/ogg"},
		{name: "nothing to go on", file: "noext", want: "application/octet-stream"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectMime(tt.declared, tt.file, tt.head); got != tt.want {
				t.Fatalf("DetectMime = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindFor(t *testing.T) {
	t.Parallel()

	tests := map[string]Kind{
		"image/jpeg":      KindImage,
		"image/png":       KindImage,
		"image/webp":      KindSticker,
		"image/gif":       KindDocument,
		"video/mp4":       KindVideo,
		"audio/ogg":       KindAudio,
		"audio/mpeg":      KindAudio,
		"application/pdf": KindDocument,
		"":                KindDocument,
	}
	for mt, want := range tests {
		if got := KindFor(mt); got != want {
			t.Fatalf("KindFor(%q) = %q, want %q", mt, got, want)
		}
	}
}
