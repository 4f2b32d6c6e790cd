package domain

import (
	"errors"
	"fmt"
)

var ErrProviderNotConfigured = errors.New("billing_provider_not_configured")

// UpstreamError wraps any failure returned by the billing provider.
type UpstreamError struct {
	Provider string
	Op       string
	Message  string
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err came from the billing provider.
func IsUpstream(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}
