package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type envConfig struct {
	AppEnv  string `env:"APP_ENV"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`
	LogFile string `env:"LOG_FILE"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	DBHost     string `env:"DB_HOST"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`
	DBSSLMode  string `env:"DB_SSLMODE"`

	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	JWTSecret     string        `env:"JWT_SECRET"`
	JWTIssuer     string        `env:"JWT_ISSUER"`
	JWTAudience   string        `env:"JWT_AUDIENCE"`
	JWTAccessTTL  time.Duration `env:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `env:"JWT_REFRESH_TTL"`

	TwilioAccountSID        string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `env:"TWILIO_AUTH_TOKEN"`
	TwilioPhoneNumber       string `env:"TWILIO_PHONE_NUMBER"`
	TwilioValidateSignature bool   `env:"TWILIO_VALIDATE_SIGNATURE" envDefault:"false"`
	WebhookBaseURL          string `env:"VOICE_WEBHOOK_BASE_URL"`

	ElevenLabsAPIKey     string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL    string `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	ElevenLabsVoiceID    string `env:"ELEVENLABS_VOICE_ID"`
	ElevenLabsModelID    string `env:"ELEVENLABS_MODEL_ID" envDefault:"eleven_turbo_v2_5"`
	ElevenLabsSTTModelID string `env:"ELEVENLABS_STT_MODEL_ID" envDefault:"scribe_v1"`

	GoogleProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"asia-northeast1"`
	GoogleSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"short"`

	LLMProvider     string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	LLMMaxTokens    int    `env:"LLM_MAX_TOKENS" envDefault:"150"`

	OwnerUserID          string        `env:"VOICE_OWNER_USER_ID"`
	SpeechLanguage       string        `env:"SPEECH_LANGUAGE" envDefault:"ja"`
	STTProvider          string        `env:"STT_PROVIDER" envDefault:"elevenlabs"`
	ProviderTimeout      time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
	UtteranceMinDuration time.Duration `env:"UTTERANCE_MIN_DURATION" envDefault:"1500ms"`
	MaxSessionDuration   time.Duration `env:"MAX_SESSION_DURATION" envDefault:"10m"`
	MaxConcurrentCalls   int           `env:"MAX_CONCURRENT_CALLS" envDefault:"2"`
}

// Load reads the process environment and validates the result.
func Load() (Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("environment variables are invalid: %w", err)
	}

	c := Config{
		App: AppConfig{Env: raw.AppEnv, Port: raw.AppPort, LogFile: raw.LogFile},
		Storage: StorageConfig{
			Driver: raw.StorageDriver,
		},
		DB: DBConfig{
			Host:     raw.DBHost,
			Port:     raw.DBPort,
			User:     raw.DBUser,
			Password: raw.DBPassword,
			Name:     raw.DBName,
			SSLMode:  raw.DBSSLMode,
		},
		Redis: RedisConfig{Host: raw.RedisHost, Port: raw.RedisPort, Password: raw.RedisPassword},
		Auth: AuthConfig{
			JWTSecret:       raw.JWTSecret,
			JWTIssuer:       raw.JWTIssuer,
			JWTAudience:     raw.JWTAudience,
			AccessTokenTTL:  raw.JWTAccessTTL,
			RefreshTokenTTL: raw.JWTRefreshTTL,
		},
		Twilio: TwilioConfig{
			AccountSID:        raw.TwilioAccountSID,
			AuthToken:         raw.TwilioAuthToken,
			PhoneNumber:       raw.TwilioPhoneNumber,
			WebhookBaseURL:    raw.WebhookBaseURL,
			ValidateSignature: raw.TwilioValidateSignature,
		},
		ElevenLabs: ElevenLabsConfig{
			APIKey:     raw.ElevenLabsAPIKey,
			BaseURL:    raw.ElevenLabsBaseURL,
			VoiceID:    raw.ElevenLabsVoiceID,
			ModelID:    raw.ElevenLabsModelID,
			STTModelID: raw.ElevenLabsSTTModelID,
		},
		Google: GoogleConfig{
			ProjectID:       raw.GoogleProjectID,
			CredentialsJSON: raw.GoogleCredentialsJSON,
			SpeechLocation:  raw.GoogleSpeechLocation,
			SpeechModel:     raw.GoogleSpeechModel,
		},
		LLM: LLMConfig{
			Provider:        raw.LLMProvider,
			AnthropicAPIKey: raw.AnthropicAPIKey,
			AnthropicModel:  raw.AnthropicModel,
			OpenAIAPIKey:    raw.OpenAIAPIKey,
			OpenAIModel:     raw.OpenAIModel,
			MaxTokens:       raw.LLMMaxTokens,
		},
		Voice: VoiceConfig{
			OwnerUserID:          raw.OwnerUserID,
			Language:             raw.SpeechLanguage,
			STTProvider:          raw.STTProvider,
			ProviderTimeout:      raw.ProviderTimeout,
			UtteranceMinDuration: raw.UtteranceMinDuration,
			MaxSessionDuration:   raw.MaxSessionDuration,
			MaxConcurrentCalls:   raw.MaxConcurrentCalls,
		},
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
