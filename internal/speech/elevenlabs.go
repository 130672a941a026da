package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	defaultElevenLabsURL = "https://api.elevenlabs.io"
	sttPath              = "/v1/speech-to-text"
	ttsPath              = "/v1/text-to-speech/{voice_id}"
	ttsOutputFormat      = "pcm_16000"
)

type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string
	ModelID    string
	STTModelID string
	// Language is the recognition locale, e.g. "ja".
	Language string
}

// ElevenLabs implements both Recognizer and Synthesizer over the ElevenLabs HTTP API.
type ElevenLabs struct {
	http *resty.Client
	cfg  ElevenLabsConfig
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.STTModelID == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if cfg.Language == "" {
		cfg.Language = "ja"
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("xi-api-key", cfg.APIKey).
		SetRetryCount(0)

	return &ElevenLabs{http: c, cfg: cfg}
}

type sttResponse struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	Probability  float64 `json:"language_probability"`
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (e *ElevenLabs) Recognize(ctx context.Context, wav []byte) (string, error) {
	if e.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}

	var out sttResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetFileReader("file", "utterance.wav", bytes.NewReader(wav)).
		SetMultipartFormData(map[string]string{
			"model_id":      e.cfg.STTModelID,
			"language_code": e.cfg.Language,
		}).
		SetResult(&out).
		Post(sttPath)
	if err != nil {
		return "", fmt.Errorf("speech: elevenlabs stt request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("speech: elevenlabs stt status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return out.Text, nil
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if e.cfg.APIKey == "" || voiceID == "" {
		return nil, ErrNotConfigured
	}

	resp, err := e.http.R().
		SetContext(ctx).
		SetPathParam("voice_id", voiceID).
		SetQueryParam("output_format", ttsOutputFormat).
		SetHeader("Content-Type", "application/json").
		SetBody(ttsRequest{Text: text, ModelID: e.cfg.ModelID}).
		Post(ttsPath)
	if err != nil {
		return nil, fmt.Errorf("speech: elevenlabs tts request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("speech: elevenlabs tts status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return resp.Body(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
