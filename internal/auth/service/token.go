package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/compliancehub/internal/auth/domain"
	"github.com/smallbiznis/compliancehub/internal/config"
)

const issuer = "compliancehub"

type claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type tokenService struct {
	secret []byte
	now    func() time.Time
}

func New(cfg config.Config) (domain.TokenService, error) {
	return NewWithSecret(cfg.AuthJWTSecret)
}

func NewWithSecret(secret string) (domain.TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domain.ErrSecretNotProvided
	}
	return &tokenService{secret: []byte(secret), now: time.Now}, nil
}

// Verify accepts HMAC-signed tokens carrying the user in `user_id` or `sub`.
func (s *tokenService) Verify(raw string) (domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identity{}, domain.ErrMissingToken
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Identity{}, domain.ErrInvalidToken
	}

	subject := strings.TrimSpace(c.UserID)
	if subject == "" {
		subject = strings.TrimSpace(c.Subject)
	}
	userID, err := snowflake.ParseString(subject)
	if err != nil || userID == 0 {
		return domain.Identity{}, domain.ErrInvalidToken
	}

	return domain.Identity{UserID: userID, Email: strings.TrimSpace(c.Email)}, nil
}

func (s *tokenService) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	if identity.UserID == 0 {
		return "", domain.ErrInvalidToken
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: identity.UserID.String(),
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.secret)
}
