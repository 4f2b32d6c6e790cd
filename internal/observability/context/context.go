package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/compliancehub/internal/authcontext"
)

type requestIDKey struct{}

// WithRequestID stores the inbound request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// UserIDFromContext returns the authenticated user as a log-friendly string.
func UserIDFromContext(ctx context.Context) string {
	userID, ok := authcontext.UserIDFromContext(ctx)
	if !ok {
		return ""
	}
	return userID.String()
}
