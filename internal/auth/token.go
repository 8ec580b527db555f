package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/modelserve-go/internal/config"
	"github.com/sirupsen/logrus"
)

// Identity is the user/model pair carried by a bearer token
type Identity struct {
	UserID  string `json:"user_id"`
	ModelID string `json:"model_id"`
}

type tokenClaims struct {
	UserID  string `json:"user_id"`
	ModelID string `json:"model_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies bearer tokens
type TokenManager struct {
	secret  []byte
	ttl     time.Duration
	modelID string
	logger  *logrus.Logger
}

// NewTokenManager creates a new token manager bound to the served model
func NewTokenManager(cfg *config.Config, logger *logrus.Logger) *TokenManager {
	return &TokenManager{
		secret:  []byte(cfg.Auth.JWTSecret),
		ttl:     cfg.Auth.TokenTTL,
		modelID: cfg.Model.ID,
		logger:  logger,
	}
}

// Issue creates a signed token for the given user/model pair. The model
// must be the one this process serves.
func (m *TokenManager) Issue(userID, modelID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if modelID != m.modelID {
		return "", fmt.Errorf("model %s is not served by this deployment", modelID)
	}

	now := time.Now()
	claims := tokenClaims{
		UserID:  userID,
		ModelID: modelID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"model_id": modelID,
	}).Debug("Token issued")

	return signed, nil
}

// Verify decodes a token and returns the identity it encodes
func (m *TokenManager) Verify(tokenString string) (*Identity, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" || claims.ModelID == "" {
		return nil, fmt.Errorf("token is missing identity claims")
	}

	return &Identity{UserID: claims.UserID, ModelID: claims.ModelID}, nil
}
