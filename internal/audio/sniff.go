package audio

import (
	"bytes"
	"strings"
)

// Format identifies an uploaded audio container
type Format string

const (
	FormatWebM    Format = "webm"
	FormatMP4     Format = "mp4"
	FormatWAV     Format = "wav"
	FormatOgg     Format = "ogg"
	FormatUnknown Format = "unknown"
)

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// Sniff detects the container format from the leading bytes of data
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], ebmlMagic):
		return FormatWebM
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return FormatMP4
	case len(data) >= 4 && string(data[:4]) == "RIFF":
		return FormatWAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return FormatOgg
	default:
		return FormatUnknown
	}
}

// ExtensionForContentType maps an upload content type to a file extension,
// defaulting to webm which is what browsers record
func ExtensionForContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "mp4"):
		return "mp4"
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	default:
		return "webm"
	}
}
