package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	gspeech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const googleEndpointPort = 443

type GoogleConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
	Language        string
}

// GoogleRecognizer transcribes utterances with Cloud Speech-to-Text v2 synchronous recognition.
// The gRPC client is created on first use and shared by all sessions.
type GoogleRecognizer struct {
	cfg GoogleConfig

	once    sync.Once
	client  *gspeech.Client
	initErr error
}

func NewGoogleRecognizer(cfg GoogleConfig) *GoogleRecognizer {
	cfg.Location = strings.TrimSpace(cfg.Location)
	if cfg.Location == "" {
		cfg.Location = "global"
	}
	if cfg.Model == "" {
		cfg.Model = "short"
	}
	cfg.Language = googleLanguageCode(cfg.Language)
	return &GoogleRecognizer{cfg: cfg}
}

func (g *GoogleRecognizer) connect() (*gspeech.Client, error) {
	g.once.Do(func() {
		var opts []option.ClientOption
		if g.cfg.CredentialsJSON != "" {
			creds, err := credentials.DetectDefault(&credentials.DetectOptions{
				CredentialsJSON: []byte(g.cfg.CredentialsJSON),
				Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			})
			if err != nil {
				g.initErr = fmt.Errorf("speech: detect google credentials: %w", err)
				return
			}
			opts = append(opts, option.WithAuthCredentials(creds))
		}
		if g.cfg.Location != "global" {
			opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", g.cfg.Location, googleEndpointPort)))
		}
		g.client, g.initErr = gspeech.NewClient(context.Background(), opts...)
	})
	return g.client, g.initErr
}

func (g *GoogleRecognizer) Recognize(ctx context.Context, wav []byte) (string, error) {
	if g.cfg.ProjectID == "" {
		return "", ErrNotConfigured
	}
	client, err := g.connect()
	if err != nil {
		return "", err
	}

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", g.cfg.ProjectID, g.cfg.Location),
		Config: &speechpb.RecognitionConfig{
			Model:         g.cfg.Model,
			LanguageCodes: []string{g.cfg.Language},
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: wav},
	})
	if err != nil {
		return "", googleRecognizeErr(err)
	}

	var b strings.Builder
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		b.WriteString(alts[0].GetTranscript())
	}
	return b.String(), nil
}

// googleRecognizeErr classifies a gRPC failure: a cancelled call is an interruption,
// rejected credentials are a configuration problem.
func googleRecognizeErr(err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return fmt.Errorf("%w: google recognize: %v", ErrInterrupted, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: google recognize: %v", ErrNotConfigured, err)
	default:
		return fmt.Errorf("speech: google recognize: %w", err)
	}
}

// Close releases the gRPC connection if one was opened.
func (g *GoogleRecognizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func googleLanguageCode(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "ja", "jpn":
		return "ja-JP"
	case "en", "eng":
		return "en-US"
	default:
		return lang
	}
}
