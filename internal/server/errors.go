package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/compliancehub/internal/auth/domain"
	invoicedomain "github.com/smallbiznis/compliancehub/internal/invoice/domain"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/compliancehub/internal/payment/domain"
	billingdomain "github.com/smallbiznis/compliancehub/internal/providers/billing/domain"
	"github.com/smallbiznis/compliancehub/internal/ratelimit"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	BookingID string `json:"booking_id,omitempty"`
	ServiceID string `json:"service_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotFound           = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var (
		missingPrice *invoicedomain.MissingPriceConfigurationError
		upstream     *billingdomain.UpstreamError
		persistence  *invoicedomain.PersistenceError
	)

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrSignatureVerification):
		return http.StatusBadRequest, errorPayload{
			Type:    "signature_verification_failed",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_payload",
			Message: "webhook payload could not be parsed",
		}
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.As(err, &missingPrice):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:      "missing_price_configuration",
			Message:   missingPrice.Error(),
			BookingID: missingPrice.BookingID,
			ServiceID: missingPrice.ServiceID,
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many invoice requests, retry later",
		}
	case errors.Is(err, ratelimit.ErrInvoiceInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "invoice_in_progress",
			Message: "an invoice is already being created for this account",
		}
	case errors.As(err, &upstream):
		return http.StatusInternalServerError, errorPayload{
			Type:     "upstream_provider_error",
			Message:  upstream.Message,
			Provider: upstream.Provider,
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, billingdomain.ErrProviderNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.As(err, &persistence):
		return http.StatusInternalServerError, errorPayload{
			Type:    "persistence_error",
			Message: "failed to persist changes",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, invoicedomain.ErrInvalidArgument),
		errors.Is(err, notificationdomain.ErrInvalidID),
		errors.Is(err, notificationdomain.ErrInvalidLimit),
		errors.Is(err, notificationdomain.ErrInvalidType),
		errors.Is(err, notificationdomain.ErrInvalidTitle):
		return true
	default:
		return false
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, invoicedomain.ErrUnauthorized),
		errors.Is(err, notificationdomain.ErrInvalidUser),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrBookingNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog labels request errors for the access log.
func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}
