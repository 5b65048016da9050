package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// sinePCM generates little-endian PCM-16 bytes of a 440Hz tone
func sinePCM(sampleRate int, seconds float64) []byte {
	numSamples := int(float64(sampleRate) * seconds)
	buf := make([]byte, numSamples*2)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		sample := int16(16383.0 * math.Sin(2*math.Pi*440.0*t))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func TestFramePCM16(t *testing.T) {
	sampleRate := 16000
	pcm := sinePCM(sampleRate, 0.1)

	wavData, err := FramePCM16(pcm, sampleRate, 1)
	if err != nil {
		t.Fatalf("FramePCM16 failed: %v", err)
	}

	expectedSize := WAVHeaderSize + len(pcm)
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	if !bytes.Equal(wavData[WAVHeaderSize:], pcm) {
		t.Error("WAV body does not match PCM input")
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestFramePCM16Invalid(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
	}{
		{"empty data", []byte{}, 16000, 1},
		{"zero sample rate", []byte{1, 2}, 0, 1},
		{"negative sample rate", []byte{1, 2}, -8000, 1},
		{"zero channels", []byte{1, 2}, 16000, 0},
		{"odd length", []byte{1, 2, 3}, 16000, 1},
		{"partial stereo frame", []byte{1, 2, 3, 4, 5, 6}, 16000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FramePCM16(tt.pcm, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestPCM16Duration(t *testing.T) {
	if d := PCM16Duration(32000, 16000, 1); math.Abs(d-1.0) > 0.0001 {
		t.Errorf("Expected 1s, got %f", d)
	}
	if d := PCM16Duration(32000, 8000, 2); math.Abs(d-1.0) > 0.0001 {
		t.Errorf("Expected 1s for stereo, got %f", d)
	}
	if d := PCM16Duration(32000, 0, 1); d != 0 {
		t.Errorf("Expected 0 for invalid sample rate, got %f", d)
	}
}
