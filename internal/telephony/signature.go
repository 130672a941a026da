package telephony

import (
	"net/http"
	"strings"

	"voice-secretary/pkg/logger"

	"github.com/gin-gonic/gin"
	twilioclient "github.com/twilio/twilio-go/client"
)

const signatureHeader = "X-Twilio-Signature"

// RequireTwilioSignature rejects webhooks whose X-Twilio-Signature does not match.
// publicBaseURL is the externally visible scheme+host Twilio signed against; the
// request URI is appended to it.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	validator := twilioclient.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBaseURL, "/")

	return func(c *gin.Context) {
		sig := c.GetHeader(signatureHeader)
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		url := base + c.Request.URL.RequestURI()
		if !validator.Validate(url, formParams(c.Request), sig) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
