package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/modelserve-go/internal/auth"
	"github.com/sirupsen/logrus"
)

// TokenHandler issues bearer tokens
type TokenHandler struct {
	tokens *auth.TokenManager
	logger *logrus.Logger
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(tokens *auth.TokenManager, logger *logrus.Logger) *TokenHandler {
	return &TokenHandler{
		tokens: tokens,
		logger: logger,
	}
}

type tokenRequest struct {
	UserID  string `json:"user_id"`
	ModelID string `json:"model_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// IssueToken handles POST /token
func (h *TokenHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	token, err := h.tokens.Issue(req.UserID, req.ModelID)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":  req.UserID,
			"model_id": req.ModelID,
		}).Warn("Token issuance refused")
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}
