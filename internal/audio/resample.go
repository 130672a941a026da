package audio

import (
	"encoding/binary"
	"log/slog"
	"math"

	resampler "github.com/tphakala/go-audio-resampler"
)

// resampleQuality is tuned for telephone speech, not music.
const resampleQuality = resampler.QualityLow

// Resample converts mono 16-bit LE PCM from one sample rate to another.
// Output length follows the rate ratio within the filter's edge effects.
// Identical rates return a copy of the input. Invalid arguments or a resampler
// failure return pcm unchanged.
func Resample(pcm []byte, fromRate, toRate, sampleWidth int) []byte {
	if fromRate <= 0 || toRate <= 0 || sampleWidth != SampleWidth || len(pcm)%sampleWidth != 0 {
		slog.Warn("audio: resample rejected, passing audio through",
			"from", fromRate, "to", toRate, "width", sampleWidth, "len", len(pcm))
		return pcm
	}
	if fromRate == toRate || len(pcm) == 0 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	out, err := resampler.ResampleMono(decodeSamples(pcm), float64(fromRate), float64(toRate), resampleQuality)
	if err != nil {
		slog.Warn("audio: resample failed, passing audio through",
			"from", fromRate, "to", toRate, "err", err)
		return pcm
	}
	return encodeSamples(out)
}

// decodeSamples maps int16 LE samples onto [-1, 1).
func decodeSamples(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/SampleWidth)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

func encodeSamples(samples []float64) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(s*32768)))
	}
	return out
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
