package telephony

import (
	"errors"
	"net/http"

	"voice-secretary/internal/audit"
	"voice-secretary/internal/calls"
	"voice-secretary/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TwilioWebhookHandler converts Twilio webhooks to Bridge calls and writes TwiML.
//
// No business logic here.
type TwilioWebhookHandler struct {
	Bridge *Bridge
}

func (h TwilioWebhookHandler) HandleIncoming(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony bridge not configured"})
		return
	}

	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	adm, err := h.Bridge.AdmitInbound(ctx, form.InboundCall())
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
			return
		}
		log.Error("inbound admission failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "admission failed"})
		return
	}
	writeTwiML(c, adm.Document)
}

func (h TwilioWebhookHandler) HandleOutbound(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony bridge not configured"})
		return
	}
	form, err := ParseTwilioVoiceForm(c.Request)
	if err != nil || form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	doc, err := h.Bridge.OutboundDocument(c.Request.Context(), form.CallSid)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}
	if err != nil {
		log.Error("outbound document failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, doc)
}

func (h TwilioWebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Bridge == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "telephony bridge not configured"})
		return
	}
	cb, err := ParseTwilioStatusCallback(c.Request)
	if err != nil || cb.CallSID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if err := h.Bridge.HandleStatusCallback(c.Request.Context(), cb); err != nil {
		log.Error("status callback failed", "call_sid", cb.CallSID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func writeTwiML(c *gin.Context, doc string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}
