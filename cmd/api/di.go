package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"voice-secretary/internal/audit"
	"voice-secretary/internal/auth"
	"voice-secretary/internal/calls"
	"voice-secretary/internal/config"
	"voice-secretary/internal/dialogue"
	"voice-secretary/internal/httpapi"
	"voice-secretary/internal/reporting"
	"voice-secretary/internal/speech"
	"voice-secretary/internal/stream"
	"voice-secretary/internal/telephony"
	"voice-secretary/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do/v2"
)

const storageInitTimeout = 15 * time.Second

// stores bundles the persistence backends selected by STORAGE_DRIVER.
// DB and Redis are nil for the memory driver.
type stores struct {
	DB    *sql.DB
	Redis *redis.Client
	Calls calls.Repository
	Audit audit.Repository
}

func (s *stores) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

func setupDI(ctx context.Context, cfg *config.Config, log *slog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, log)
	registerStorageDI(ctx, injector)
	registerCallsDI(injector)
	registerVoiceDI(injector)
	registerTelephonyDI(injector)
	registerHTTPDI(injector)

	return injector
}

func registerStorageDI(ctx context.Context, injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*stores, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)

		if cfg.Storage.Driver == "memory" {
			log.Warn("using in-memory storage; data is lost on restart")
			return &stores{Calls: calls.NewMemoryRepo(), Audit: audit.NewMemoryRepo()}, nil
		}

		ctx, cancel := context.WithTimeout(ctx, storageInitTimeout)
		defer cancel()

		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres init failed: %w", err)
		}
		callsRepo := calls.NewPostgresRepo(db)
		if err := callsRepo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("calls migration failed: %w", err)
		}
		if err := utils.Migrate(ctx, db, audit.Migrations); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit migration failed: %w", err)
		}

		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}

		return &stores{DB: db, Redis: rdb, Calls: callsRepo, Audit: audit.NewPostgresRepo(db)}, nil
	})
}

func registerCallsDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*calls.Manager, error) {
		return calls.NewManager(do.MustInvoke[*stores](i).Calls), nil
	})
	do.Provide(injector, func(i do.Injector) (*calls.SettingsService, error) {
		return calls.NewSettingsService(do.MustInvoke[*stores](i).Calls), nil
	})
	do.Provide(injector, func(i do.Injector) (*calls.RuleService, error) {
		return calls.NewRuleService(do.MustInvoke[*stores](i).Calls), nil
	})
	do.Provide(injector, func(i do.Injector) (*audit.Service, error) {
		return audit.NewService(do.MustInvoke[*stores](i).Audit), nil
	})
}

func registerVoiceDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*speech.Gateway, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)

		var rec speech.Recognizer
		var syn speech.Synthesizer
		if cfg.ElevenLabs.APIKey != "" {
			el := speech.NewElevenLabs(speech.ElevenLabsConfig{
				APIKey:     cfg.ElevenLabs.APIKey,
				BaseURL:    cfg.ElevenLabs.BaseURL,
				ModelID:    cfg.ElevenLabs.ModelID,
				STTModelID: cfg.ElevenLabs.STTModelID,
				Language:   cfg.Voice.Language,
			})
			rec, syn = el, el
		} else {
			log.Warn("ELEVENLABS_API_KEY not set; replies will not be spoken")
		}
		if cfg.Voice.STTProvider == "google" {
			rec = speech.NewGoogleRecognizer(speech.GoogleConfig{
				ProjectID:       cfg.Google.ProjectID,
				CredentialsJSON: cfg.Google.CredentialsJSON,
				Location:        cfg.Google.SpeechLocation,
				Model:           cfg.Google.SpeechModel,
				Language:        cfg.Voice.Language,
			})
		}
		if rec == nil {
			log.Warn("no speech recognizer configured; caller audio will be ignored")
		}

		return speech.NewGateway(rec, syn, speech.GatewayConfig{
			Timeout:        cfg.Voice.ProviderTimeout,
			DefaultVoiceID: cfg.ElevenLabs.VoiceID,
		}), nil
	})

	do.Provide(injector, func(i do.Injector) (*dialogue.Engine, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)

		var model dialogue.ChatModel
		switch {
		case cfg.LLM.Provider == "openai" && cfg.LLM.OpenAIAPIKey != "":
			model = dialogue.NewOpenAIModel(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIModel)
		case cfg.LLM.Provider == "anthropic" && cfg.LLM.AnthropicAPIKey != "":
			model = dialogue.NewAnthropicModel(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicModel)
		default:
			log.Warn("no chat model configured; every reply will be the fallback line", "provider", cfg.LLM.Provider)
		}
		return dialogue.NewEngine(model, dialogue.Config{
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.Voice.ProviderTimeout,
		}), nil
	})

	do.Provide(injector, func(i do.Injector) (*stream.Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		st := do.MustInvoke[*stores](i)
		// Keep the mirror key alive a little past the longest possible session.
		ttl := cfg.Voice.MaxSessionDuration + time.Minute
		if st.Redis == nil {
			return stream.NewRegistry(nil, ttl), nil
		}
		return stream.NewRegistry(st.Redis, ttl), nil
	})

	do.Provide(injector, func(i do.Injector) (*stream.Orchestrator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return stream.NewOrchestrator(stream.Config{
			UtteranceMinDuration: cfg.Voice.UtteranceMinDuration,
			MaxSessionDuration:   cfg.Voice.MaxSessionDuration,
		}, stream.Deps{
			Speech:   do.MustInvoke[*speech.Gateway](i),
			Dialogue: do.MustInvoke[*dialogue.Engine](i),
			Calls:    do.MustInvoke[*calls.Manager](i),
			Settings: do.MustInvoke[*calls.SettingsService](i),
			Registry: do.MustInvoke[*stream.Registry](i),
		}), nil
	})
}

func registerTelephonyDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*telephony.Bridge, error) {
		cfg := do.MustInvoke[*config.Config](i)
		log := do.MustInvoke[*slog.Logger](i)
		st := do.MustInvoke[*stores](i)

		var provider telephony.Provider
		tp, err := telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
		if err != nil {
			log.Warn("twilio not configured; placing calls will fail", "err", err)
		} else {
			provider = tp
		}

		var limiter telephony.Limiter
		if st.Redis != nil && cfg.Voice.MaxConcurrentCalls > 0 {
			limiter = telephony.NewRedisLimiter(st.Redis, cfg.Voice.MaxConcurrentCalls, 0)
		}
		if cfg.Voice.OwnerUserID == "" {
			log.Warn("VOICE_OWNER_USER_ID not set; inbound calls will be declined")
		}

		return telephony.NewBridge(telephony.BridgeConfig{
			FromNumber:        cfg.Twilio.PhoneNumber,
			StreamURL:         cfg.StreamURL(),
			StatusCallbackURL: cfg.StatusCallbackURL(),
			OwnerUserID:       cfg.Voice.OwnerUserID,
		}, telephony.BridgeDeps{
			Provider: provider,
			Calls:    do.MustInvoke[*calls.Manager](i),
			Settings: do.MustInvoke[*calls.SettingsService](i),
			Rules:    do.MustInvoke[*calls.RuleService](i),
			Limiter:  limiter,
			Audit:    do.MustInvoke[*audit.Service](i),
			Sessions: do.MustInvoke[*stream.Registry](i),
		}), nil
	})
}

func registerHTTPDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*auth.Manager, error) {
		return auth.NewManager(do.MustInvoke[*config.Config](i).Auth)
	})
	do.Provide(injector, func(i do.Injector) (httpapi.Handlers, error) {
		return httpapi.Handlers{
			Auth:     do.MustInvoke[*auth.Manager](i),
			Calls:    do.MustInvoke[*calls.Manager](i),
			Settings: do.MustInvoke[*calls.SettingsService](i),
			Rules:    do.MustInvoke[*calls.RuleService](i),
			Bridge:   do.MustInvoke[*telephony.Bridge](i),
			Streams:  do.MustInvoke[*stream.Registry](i),
			Reports:  reporting.NewService(do.MustInvoke[*calls.Manager](i)),
		}, nil
	})
}
