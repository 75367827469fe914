package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/accounts"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/auth"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request syncapi.SignUpRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRequest, "email and password are required")
		return
	}

	account, err := h.accounts.SignUp(c.Request.Context(), request.Email, request.Password, request.Name)
	switch {
	case err == nil:
	case errors.Is(err, accounts.ErrEmailTaken):
		reject(c, http.StatusConflict, syncapi.CodeEmailTaken, "email already registered")
		return
	case errors.Is(err, accounts.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRequest, err.Error())
		return
	default:
		h.logger.Error("failed to register account", zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "sign up failed")
		return
	}

	h.grant(c, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request syncapi.LoginRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" || request.Password == "" {
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRequest, "email and password are required")
		return
	}

	account, err := h.accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		h.logger.Info("login rejected", zap.String("device", request.DeviceInfo))
		reject(c, http.StatusUnauthorized, syncapi.CodeInvalidCredentials, "invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate account", zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "login failed")
		return
	}

	h.grant(c, account)
}

// handleRefresh exchanges a refresh token for a new pair. Tokens issued
// before the account's last logout carry a stale generation and are refused.
func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request syncapi.RefreshRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
		reject(c, http.StatusBadRequest, syncapi.CodeInvalidRequest, "refresh token is required")
		return
	}

	claims, err := h.tokens.ValidateRefreshToken(request.RefreshToken)
	if err != nil {
		h.logger.Info("refresh token rejected", zap.Error(err))
		reject(c, http.StatusUnauthorized, syncapi.CodeUnauthorized, "refresh token is invalid")
		return
	}
	account, err := h.accounts.Get(c.Request.Context(), claims.Subject)
	if errors.Is(err, accounts.ErrNotFound) {
		reject(c, http.StatusUnauthorized, syncapi.CodeUnauthorized, "refresh token is invalid")
		return
	}
	if err != nil {
		h.logger.Error("failed to load account for refresh", zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "refresh failed")
		return
	}
	if account.TokenGeneration != claims.Generation {
		h.logger.Info("revoked refresh token presented", zap.String("user_id", account.ID))
		reject(c, http.StatusUnauthorized, syncapi.CodeUnauthorized, "refresh token has been revoked")
		return
	}

	h.grant(c, account)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	err := h.accounts.RevokeTokens(c.Request.Context(), userID)
	if errors.Is(err, accounts.ErrNotFound) {
		reject(c, http.StatusUnauthorized, syncapi.CodeUnauthorized, "unknown account")
		return
	}
	if err != nil {
		h.logger.Error("failed to revoke tokens", zap.String("user_id", userID), zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "logout failed")
		return
	}
	respond(c, struct{}{})
}

func (h *httpHandler) grant(c *gin.Context, account accounts.Account) {
	pair, err := h.tokens.IssuePair(c.Request.Context(), account.ID, account.TokenGeneration)
	if err != nil {
		h.logger.Error("failed to issue tokens", zap.String("user_id", account.ID), zap.Error(err))
		reject(c, http.StatusInternalServerError, syncapi.CodeInternal, "token issue failed")
		return
	}
	respond(c, syncapi.AuthResponse{
		UserID:       account.ID,
		Email:        account.Email,
		Name:         account.DisplayName,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}
