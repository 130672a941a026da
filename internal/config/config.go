package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// Values come from the environment (see Load); no business logic should read raw env vars.
type Config struct {
	App        AppConfig
	Storage    StorageConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Twilio     TwilioConfig
	ElevenLabs ElevenLabsConfig
	Google     GoogleConfig
	LLM        LLMConfig
	Voice      VoiceConfig
}

type AppConfig struct {
	Env     string
	Port    int
	LogFile string
}

// StorageConfig selects the call store. "memory" is for local runs and tests only.
type StorageConfig struct {
	Driver string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// TwilioConfig is optional at startup; placing a call without it fails with a configuration error.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	PhoneNumber       string
	WebhookBaseURL    string
	ValidateSignature bool
}

type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	ModelID    string
	STTModelID string
}

type GoogleConfig struct {
	ProjectID       string
	CredentialsJSON string
	SpeechLocation  string
	SpeechModel     string
}

type LLMConfig struct {
	Provider        string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	MaxTokens       int
}

type VoiceConfig struct {
	// OwnerUserID owns inbound calls to the configured number.
	OwnerUserID          string
	Language             string
	STTProvider          string
	ProviderTimeout      time.Duration
	UtteranceMinDuration time.Duration
	MaxSessionDuration   time.Duration
	MaxConcurrentCalls   int
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	switch c.Storage.Driver {
	case "postgres":
		errs = append(errs, c.validateDB()...)
		errs = append(errs, c.validateRedis()...)
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be one of postgres, memory, got %q", c.Storage.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if base := strings.TrimSpace(c.Twilio.WebhookBaseURL); base != "" {
		if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
			errs = append(errs, fmt.Errorf("VOICE_WEBHOOK_BASE_URL must be an http(s) URL, got %q", base))
		}
		c.Twilio.WebhookBaseURL = strings.TrimRight(base, "/")
	}
	if c.IsProduction() && c.Twilio.AuthToken != "" && !c.Twilio.ValidateSignature {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE must be enabled in production"))
	}

	switch c.LLM.Provider {
	case "", "anthropic":
		c.LLM.Provider = "anthropic"
	case "openai":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be one of anthropic, openai, got %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 150
	}

	switch c.Voice.STTProvider {
	case "", "elevenlabs":
		c.Voice.STTProvider = "elevenlabs"
	case "google":
		if c.Google.ProjectID == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT_ID is required when STT_PROVIDER=google"))
		}
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER must be one of elevenlabs, google, got %q", c.Voice.STTProvider))
	}
	if c.Voice.ProviderTimeout <= 0 {
		c.Voice.ProviderTimeout = 5 * time.Second
	}
	if c.Voice.UtteranceMinDuration <= 0 {
		c.Voice.UtteranceMinDuration = 1500 * time.Millisecond
	}
	if c.Voice.MaxSessionDuration <= 0 {
		c.Voice.MaxSessionDuration = 10 * time.Minute
	}
	if c.Voice.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_CALLS must be >= 0, got %d", c.Voice.MaxConcurrentCalls))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c *Config) validateRedis() []error {
	var errs []error
	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// StreamURL is the public WebSocket URL Twilio connects the media stream to.
// Empty when no webhook base is configured.
func (c Config) StreamURL() string {
	base := c.Twilio.WebhookBaseURL
	if base == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/voice/stream"
}

// StatusCallbackURL is where Twilio posts call status changes. Empty when no webhook base is configured.
func (c Config) StatusCallbackURL() string {
	if c.Twilio.WebhookBaseURL == "" {
		return ""
	}
	return c.Twilio.WebhookBaseURL + "/api/v1/voice/webhook/status"
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
