package stream

import (
	"net/http"

	"voice-secretary/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler upgrades Twilio media stream requests and hands them to the orchestrator.
type Handler struct {
	Orchestrator *Orchestrator
	upgrader     websocket.Upgrader
}

func NewHandler(o *Orchestrator) *Handler {
	return &Handler{
		Orchestrator: o,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio does not send an Origin header we could check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /stream and GET /stream/:call_sid.
func (h *Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)
	if callSID := c.Param("call_sid"); callSID != "" {
		log = log.With("call_sid", callSID)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("media stream upgrade failed", "err", err)
		return
	}

	ctx := logger.With(c.Request.Context(), log)
	if err := h.Orchestrator.Serve(ctx, conn); err != nil {
		log.Warn("media stream ended with error", "err", err)
	}
}
