// Package remote is the HTTP client for the sync service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncapi"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 32 << 20
)

var (
	errMissingBaseURL = errors.New("remote: base url is required")
	errMissingTokens  = errors.New("remote: token source is required")
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config describes how to reach the sync service.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	DeviceInfo string
	Logger     *zap.Logger
}

// Client calls the unauthenticated account endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	deviceInfo string
	logger     *zap.Logger
}

// New validates the configuration and returns a Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		deviceInfo: cfg.DeviceInfo,
		logger:     logger,
	}, nil
}

// SignUp registers an account and returns its first grant.
func (c *Client) SignUp(ctx context.Context, request syncapi.SignUpRequest) (syncapi.AuthResponse, error) {
	var response syncapi.AuthResponse
	err := c.call(ctx, syncapi.PathSignUp, "", request, &response)
	return response, err
}

// Login exchanges a password for a grant.
func (c *Client) Login(ctx context.Context, request syncapi.LoginRequest) (syncapi.AuthResponse, error) {
	if request.DeviceInfo == "" {
		request.DeviceInfo = c.deviceInfo
	}
	var response syncapi.AuthResponse
	err := c.call(ctx, syncapi.PathLogin, "", request, &response)
	return response, err
}

// Refresh exchanges a refresh token for a new grant.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (syncapi.AuthResponse, error) {
	var response syncapi.AuthResponse
	err := c.call(ctx, syncapi.PathRefresh, "", syncapi.RefreshRequest{RefreshToken: refreshToken}, &response)
	return response, err
}

// Sync returns a client for the bearer-authenticated endpoints.
func (c *Client) Sync(tokens TokenSource) (*SyncClient, error) {
	if tokens == nil {
		return nil, errMissingTokens
	}
	return &SyncClient{client: c, tokens: tokens}, nil
}

// SyncClient calls the sync endpoints with the current access token.
type SyncClient struct {
	client *Client
	tokens TokenSource
}

// Pull fetches every record the service received at or after the watermark.
func (s *SyncClient) Pull(ctx context.Context, request syncapi.PullRequest) (syncapi.SyncResponse, error) {
	var response syncapi.SyncResponse
	err := s.authorized(ctx, syncapi.PathPull, request, &response)
	return response, err
}

// Push uploads dirty records.
func (s *SyncClient) Push(ctx context.Context, request syncapi.PushRequest) (syncapi.SyncResponse, error) {
	if request.Snapshots == nil {
		request.Snapshots = []syncapi.SnapshotDTO{}
	}
	if request.Categories == nil {
		request.Categories = []syncapi.CategoryDTO{}
	}
	var response syncapi.SyncResponse
	err := s.authorized(ctx, syncapi.PathPush, request, &response)
	return response, err
}

// Logout revokes the caller's refresh tokens on the service.
func (s *SyncClient) Logout(ctx context.Context) error {
	var response struct{}
	return s.authorized(ctx, syncapi.PathLogout, struct{}{}, &response)
}

func (s *SyncClient) authorized(ctx context.Context, path string, request any, response any) error {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	return s.client.call(ctx, path, token, request, response)
}

func (c *Client) call(ctx context.Context, path, token string, request any, response any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("remote: encode %s: %w", path, err)
	}
	httpRequest, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("remote: build %s: %w", path, err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")
	if token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.logger.Debug("remote call failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("remote: %s: %w", path, err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("remote: read %s: %w", path, err)
	}
	c.logger.Debug("remote call completed",
		zap.String("path", path),
		zap.Int("status", httpResponse.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	return decodeEnvelope(httpResponse.StatusCode, body, response)
}

func decodeEnvelope(status int, body []byte, out any) error {
	var envelope struct {
		Success   bool            `json:"success"`
		Message   string          `json:"message"`
		Data      json.RawMessage `json:"data"`
		ErrorCode string          `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return &syncapi.RemoteError{Status: status, Message: http.StatusText(status)}
		}
		return fmt.Errorf("%w: %v", syncapi.ErrMalformedResponse, err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices || !envelope.Success {
		return &syncapi.RemoteError{Status: status, Code: envelope.ErrorCode, Message: envelope.Message}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %v", syncapi.ErrMalformedResponse, err)
	}
	return nil
}
