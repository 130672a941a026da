package main

import (
	"net/http"
	"time"

	"voice-secretary/internal/auth"
	"voice-secretary/internal/config"
	"voice-secretary/internal/httpapi"
	"voice-secretary/internal/stream"
	"voice-secretary/internal/telephony"
	"voice-secretary/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, injector do.Injector) {
	cfg := do.MustInvoke[*config.Config](injector)
	st := do.MustInvoke[*stores](injector)
	h := do.MustInvoke[httpapi.Handlers](injector)

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if st.DB != nil {
			if err := utils.HealthCheck(c.Request.Context(), st.DB, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
				return
			}
		}
		if st.Redis != nil {
			if err := st.Redis.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	voice := r.Group("/api/v1/voice")

	// Provider webhooks (public, optionally signature checked).
	{
		wh := telephony.TwilioWebhookHandler{Bridge: do.MustInvoke[*telephony.Bridge](injector)}
		webhooks := voice.Group("/webhook")
		if cfg.Twilio.ValidateSignature {
			webhooks.Use(telephony.RequireTwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.WebhookBaseURL))
		}
		webhooks.POST("/incoming", wh.HandleIncoming)
		webhooks.POST("/outbound", wh.HandleOutbound)
		webhooks.POST("/status", wh.HandleStatus)
	}

	// Media streams. Outbound calls connect to the bare path, inbound to /:call_sid.
	{
		sh := stream.NewHandler(do.MustInvoke[*stream.Orchestrator](injector))
		voice.GET("/stream", sh.Serve)
		voice.GET("/stream/:call_sid", sh.Serve)
	}

	// AUTH routes (token issuance).
	authGroup := r.Group("/api/v1/auth")
	{
		// NOTE: /token trusts the caller; real credential validation lives outside this service.
		if !cfg.IsProduction() {
			authGroup.POST("/token", h.Login)
		}
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected API group
	api := voice.Group("")
	api.Use(auth.RequireAccessToken(h.Auth))
	{
		api.GET("/settings", h.GetSettings)
		api.PATCH("/settings", h.UpdateSettings)
		api.PATCH("/settings/inbound", h.SetInboundEnabled)

		api.GET("/rules", h.ListRules)
		api.POST("/rules", h.CreateRule)
		api.DELETE("/rules/:id", h.DeleteRule)

		api.GET("/calls", h.ListCalls)
		api.POST("/calls", h.PlaceCall)
		api.GET("/calls/:id", h.GetCall)
		api.POST("/calls/:id/end", h.EndCall)

		api.GET("/reports/calls", h.CallsSummary)
	}
}
