// Package audio converts between Twilio's narrowband telephony audio and linear PCM.
//
// All functions are pure and safe for concurrent use. They never fail the caller:
// malformed input degrades to an empty or unchanged buffer.
package audio

import (
	"log/slog"
	"time"

	"github.com/zaf/g711"
)

const (
	// NarrowbandRate is the sample rate of Twilio media streams.
	NarrowbandRate = 8000
	// SampleWidth is the byte width of a linear PCM sample (16-bit little endian).
	SampleWidth = 2
	// FrameBytes is 20ms of μ-law audio, the frame size Twilio sends and expects.
	FrameBytes = 160
)

// NarrowbandToLinear decodes 8kHz μ-law audio to 16-bit LE PCM at the same rate.
// The output is exactly twice as long as the input.
func NarrowbandToLinear(ulaw []byte) []byte {
	if len(ulaw) == 0 {
		slog.Debug("audio: empty narrowband buffer")
		return []byte{}
	}
	return g711.DecodeUlaw(ulaw)
}

// LinearToNarrowband encodes 16-bit LE PCM to μ-law. A trailing odd byte is dropped.
func LinearToNarrowband(pcm []byte) []byte {
	if len(pcm)%SampleWidth != 0 {
		slog.Debug("audio: odd-length pcm buffer, dropping trailing byte", "len", len(pcm))
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return []byte{}
	}
	return g711.EncodeUlaw(pcm)
}

// Duration reports how much audio a PCM buffer of n bytes holds.
func Duration(n, sampleRate, sampleWidth int) time.Duration {
	if sampleRate <= 0 || sampleWidth <= 0 {
		return 0
	}
	samples := n / sampleWidth
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor is the inverse of Duration, rounded down to whole samples.
func BytesFor(d time.Duration, sampleRate, sampleWidth int) int {
	if d <= 0 || sampleRate <= 0 || sampleWidth <= 0 {
		return 0
	}
	samples := int(d * time.Duration(sampleRate) / time.Second)
	return samples * sampleWidth
}

// Chunk splits b into frames of size bytes; the last frame may be shorter.
func Chunk(b []byte, size int) [][]byte {
	if size <= 0 || len(b) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(b)+size-1)/size)
	for start := 0; start < len(b); start += size {
		end := min(start+size, len(b))
		out = append(out, b[start:end])
	}
	return out
}
