package audio

import "testing"

func TestSniff(t *testing.T) {
	wav, _ := FramePCM16(make([]byte, 100), 16000, 1)

	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"webm", []byte{0x1a, 0x45, 0xdf, 0xa3, 0, 0, 0, 0}, FormatWebM},
		{"mp4", []byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}, FormatMP4},
		{"wav", wav, FormatWAV},
		{"ogg", []byte("OggS\x00\x02"), FormatOgg},
		{"unknown", []byte("hello world!"), FormatUnknown},
		{"short", []byte{0x1a}, FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtensionForContentType(t *testing.T) {
	tests := map[string]string{
		"audio/webm;codecs=opus": "webm",
		"audio/mp4":              "mp4",
		"audio/wav":              "wav",
		"audio/mpeg":             "mp3",
		"audio/ogg":              "ogg",
		"":                       "webm",
	}

	for contentType, want := range tests {
		if got := ExtensionForContentType(contentType); got != want {
			t.Errorf("ExtensionForContentType(%q) = %q, want %q", contentType, got, want)
		}
	}
}
