package server

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/compliancehub/internal/authcontext"
	"github.com/smallbiznis/compliancehub/internal/ratelimit"
)

const (
	headerAuthorization = "Authorization"
	contextUserIDKey    = "user_id"
	streamTokenParam    = "access_token"
)

// BearerAuthRequired resolves the caller from an `Authorization: Bearer` token.
func (s *Server) BearerAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.authenticate(c, bearerToken(c.GetHeader(headerAuthorization)))
	}
}

// StreamAuthRequired also accepts the token as a query parameter, since browser
// EventSource cannot set headers.
func (s *Server) StreamAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader(headerAuthorization))
		if token == "" {
			token = strings.TrimSpace(c.Query(streamTokenParam))
		}
		s.authenticate(c, token)
	}
}

func (s *Server) authenticate(c *gin.Context, token string) {
	if s.tokens == nil || token == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	identity, err := s.tokens.Verify(token)
	if err != nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ctx := authcontext.WithUserID(c.Request.Context(), identity.UserID)
	if identity.Email != "" {
		ctx = authcontext.WithEmail(ctx, identity.Email)
	}
	c.Request = c.Request.WithContext(ctx)
	c.Set(contextUserIDKey, identity.UserID.String())
	c.Next()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// InvoiceCreateGuard throttles invoice creation and holds a per-caller lock until
// the handler returns.
func (s *Server) InvoiceCreateGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		release, err := s.invoiceGuard.Acquire(c.Request.Context(), c.GetString(contextUserIDKey))
		if err != nil {
			var limited *ratelimit.LimitedError
			if errors.As(err, &limited) && limited.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
			}
			AbortWithError(c, err)
			return
		}
		defer release()
		c.Next()
	}
}
