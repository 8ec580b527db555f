package auth

import (
	"testing"
	"time"

	"github.com/modelserve-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, ttl time.Duration) *TokenManager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = ttl
	cfg.Model.ID = "mistral-7b-instruct"

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewTokenManager(cfg, logger)
}

func TestTokenRoundTrip(t *testing.T) {
	manager := newTestManager(t, time.Hour)

	token, err := manager.Issue("alice", "mistral-7b-instruct")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := manager.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "mistral-7b-instruct", identity.ModelID)
}

func TestIssueRejectsUnknownModel(t *testing.T) {
	manager := newTestManager(t, time.Hour)

	_, err := manager.Issue("alice", "some-other-model")
	assert.Error(t, err)
}

func TestIssueRequiresUser(t *testing.T) {
	manager := newTestManager(t, time.Hour)

	_, err := manager.Issue("", "mistral-7b-instruct")
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	manager := newTestManager(t, -time.Minute)

	token, err := manager.Issue("alice", "mistral-7b-instruct")
	require.NoError(t, err)

	_, err = manager.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	manager := newTestManager(t, time.Hour)

	_, err := manager.Verify("not-a-token")
	assert.Error(t, err)
}

func TestVerifyRejectsTokenFromOtherSecret(t *testing.T) {
	manager := newTestManager(t, time.Hour)

	other := newTestManager(t, time.Hour)
	other.secret = []byte("different-secret")

	token, err := other.Issue("alice", "mistral-7b-instruct")
	require.NoError(t, err)

	_, err = manager.Verify(token)
	assert.Error(t, err)
}
