package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerStripeSignature = "Stripe-Signature"
	maxWebhookBodyBytes   = 1 << 20
)

// HandleStripeWebhook acknowledges with 200 once an event is applied or ignored.
// Local failures answer 500 so Stripe redelivers.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	if s.paymentSvc == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	outcome, err := s.paymentSvc.IngestStripe(c.Request.Context(), payload, c.GetHeader(headerStripeSignature))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "outcome": outcome})
}
