package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/accounts"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/auth"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/cloud"
	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "assetinsight_user_id"

var (
	errMissingTokenService   = errors.New("token service dependency required")
	errMissingAccountService = errors.New("account service dependency required")
	errMissingSyncService    = errors.New("sync service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenService issues and validates the service's bearer tokens.
type TokenService interface {
	IssuePair(ctx context.Context, subject string, generation int64) (auth.TokenPair, error)
	ValidateAccessToken(token string) (string, error)
	ValidateRefreshToken(token string) (auth.TokenClaims, error)
}

// AccountService manages registered accounts.
type AccountService interface {
	SignUp(ctx context.Context, email, password, displayName string) (accounts.Account, error)
	Authenticate(ctx context.Context, email, password string) (accounts.Account, error)
	Get(ctx context.Context, id string) (accounts.Account, error)
	RevokeTokens(ctx context.Context, id string) error
}

// SyncService stores and serves each account's records.
type SyncService interface {
	Pull(ctx context.Context, userID string, since *int64) (syncapi.SyncResponse, error)
	Push(ctx context.Context, userID string, request syncapi.PushRequest) (cloud.PushResult, error)
}

type Dependencies struct {
	Tokens         TokenService
	Accounts       AccountService
	Sync           SyncService
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenService
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountService
	}
	if deps.Sync == nil {
		return nil, errMissingSyncService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		accounts: deps.Accounts,
		sync:     deps.Sync,
		logger:   logger,
	}

	router.POST(syncapi.PathSignUp, handler.handleSignUp)
	router.POST(syncapi.PathLogin, handler.handleLogin)
	router.POST(syncapi.PathRefresh, handler.handleRefresh)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST(syncapi.PathLogout, handler.handleLogout)
	protected.POST(syncapi.PathPull, handler.handlePull)
	protected.POST(syncapi.PathPush, handler.handlePush)

	return router, nil
}

// corsMiddleware allows every origin unless origins are listed.
func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	tokens   TokenService
	accounts AccountService
	sync     SyncService
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, syncapi.Failure(syncapi.CodeUnauthorized, errInvalidAuthorization.Error()))
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, syncapi.Failure(syncapi.CodeUnauthorized, errInvalidAuthorization.Error()))
		return
	}
	subject, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, syncapi.Failure(syncapi.CodeUnauthorized, "unauthorized"))
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func respond[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, syncapi.OK(data))
}

func reject(c *gin.Context, status int, code, message string) {
	c.JSON(status, syncapi.Failure(code, message))
}
