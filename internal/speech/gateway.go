// Package speech turns caller audio into text and assistant text into audio.
//
// The Gateway never returns provider errors to its callers: every failure, including
// missing credentials and timeouts, is logged and reported as "no result" so a live
// call can skip a turn instead of breaking.
package speech

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-secretary/internal/audio"
	"voice-secretary/pkg/logger"
)

// SynthesisRate is the sample rate requested from the synthesis provider before
// the audio is downsampled for telephony.
const SynthesisRate = 16000

var (
	// ErrNotConfigured is returned by providers that lack credentials or whose
	// credentials were rejected.
	ErrNotConfigured = errors.New("speech: provider not configured")
	// ErrInterrupted is returned when the caller abandoned the request.
	ErrInterrupted = errors.New("speech: request interrupted")
)

// Recognizer transcribes a WAV container.
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte) (string, error)
}

// Synthesizer renders text as 16-bit mono PCM at SynthesisRate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

type GatewayConfig struct {
	// Timeout bounds each provider call. Zero means 5s.
	Timeout time.Duration
	// DefaultVoiceID is used when callers pass an empty voice id.
	DefaultVoiceID string
	// InputRate is the sample rate of PCM handed to Recognize. Zero means 8kHz.
	InputRate int
}

type Gateway struct {
	rec Recognizer
	syn Synthesizer
	cfg GatewayConfig
}

func NewGateway(rec Recognizer, syn Synthesizer, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = audio.NarrowbandRate
	}
	return &Gateway{rec: rec, syn: syn, cfg: cfg}
}

// Recognize transcribes linear PCM. ok is false when nothing usable came back.
func (g *Gateway) Recognize(ctx context.Context, pcm []byte) (string, bool) {
	log := logger.From(ctx)
	if g.rec == nil || len(pcm) == 0 {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	wav := audio.PCMToContainer(pcm, g.cfg.InputRate, 1, audio.SampleWidth)
	text, err := g.rec.Recognize(ctx, wav)
	if interrupted(err) {
		log.Debug("speech recognition interrupted", "err", err)
		return "", false
	}
	if err != nil {
		log.Warn("speech recognition failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug("speech recognition returned no text")
		return "", false
	}
	log.Debug("speech recognized", "chars", len(text), "duration_ms", time.Since(start).Milliseconds())
	return text, true
}

// Synthesize renders text as PCM at SynthesisRate.
func (g *Gateway) Synthesize(ctx context.Context, text, voiceID string) ([]byte, bool) {
	log := logger.From(ctx)
	text = strings.TrimSpace(text)
	if g.syn == nil || text == "" {
		return nil, false
	}
	if voiceID == "" {
		voiceID = g.cfg.DefaultVoiceID
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	pcm, err := g.syn.Synthesize(ctx, text, voiceID)
	if interrupted(err) {
		log.Debug("speech synthesis interrupted", "err", err)
		return nil, false
	}
	if err != nil {
		log.Warn("speech synthesis failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return nil, false
	}
	if len(pcm) == 0 {
		log.Warn("speech synthesis returned no audio")
		return nil, false
	}
	return pcm, true
}

// SynthesizeNarrowband renders text as 8kHz μ-law ready for a Twilio media stream.
func (g *Gateway) SynthesizeNarrowband(ctx context.Context, text, voiceID string) ([]byte, bool) {
	pcm, ok := g.Synthesize(ctx, text, voiceID)
	if !ok {
		return nil, false
	}
	pcm = audio.Resample(pcm, SynthesisRate, audio.NarrowbandRate, audio.SampleWidth)
	ulaw := audio.LinearToNarrowband(pcm)
	if len(ulaw) == 0 {
		return nil, false
	}
	return ulaw, true
}

// interrupted reports a request abandoned by the session, as opposed to a
// provider failure or a timeout.
func interrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}
