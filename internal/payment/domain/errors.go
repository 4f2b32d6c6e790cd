package domain

import "errors"

var (
	ErrSignatureVerification = errors.New("signature_verification_failed")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrWebhookSecretMissing  = errors.New("webhook_secret_missing")
)
