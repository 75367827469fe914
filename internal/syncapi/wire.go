// Package syncapi defines the JSON wire protocol shared by the sync client and
// the reference sync service.
package syncapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Endpoint paths relative to the service base URL.
const (
	PathSignUp  = "/auth/signup"
	PathLogin   = "/auth/login"
	PathRefresh = "/auth/refresh"
	PathLogout  = "/auth/logout"
	PathPull    = "/sync/pull"
	PathPush    = "/sync/push"
)

// Error codes carried in Envelope.ErrorCode.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidRecord      = "INVALID_RECORD"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	// ErrUnauthorized indicates the service refused the caller's credentials.
	ErrUnauthorized = errors.New("syncapi: unauthorized")
	// ErrRejected indicates the service understood the request and refused it.
	ErrRejected = errors.New("syncapi: rejected by server")
	// ErrUnavailable indicates a 5xx answer; the request may succeed later.
	ErrUnavailable = errors.New("syncapi: service unavailable")
	// ErrMalformedResponse indicates a response body that does not follow the envelope.
	ErrMalformedResponse = errors.New("syncapi: malformed response")
)

// Envelope wraps every response body.
type Envelope[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      *T     `json:"data,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// OK wraps data in a successful envelope.
func OK[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: &data}
}

// Failure builds an unsuccessful envelope.
func Failure(code, message string) Envelope[struct{}] {
	return Envelope[struct{}]{Success: false, ErrorCode: code, Message: message}
}

// SnapshotDTO is the wire form of a snapshot version.
type SnapshotDTO struct {
	Date       string  `json:"date"`
	CategoryID string  `json:"categoryId"`
	Amount     int64   `json:"amount"`
	Memo       *string `json:"memo"`
	UpdatedAt  int64   `json:"updatedAt"`
	Deleted    bool    `json:"deleted"`
}

// CategoryDTO is the wire form of a category version.
type CategoryDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	SortOrder int    `json:"sortOrder"`
	IsDefault bool   `json:"isDefault"`
	UpdatedAt int64  `json:"updatedAt"`
	Deleted   bool   `json:"deleted"`
}

// PullRequest asks for every record the service received at or after LastSyncTime.
// A nil LastSyncTime asks for everything.
type PullRequest struct {
	LastSyncTime *int64 `json:"lastSyncTime"`
}

// PushRequest carries every dirty local record.
type PushRequest struct {
	Snapshots  []SnapshotDTO `json:"snapshots"`
	Categories []CategoryDTO `json:"categories"`
}

// SyncResponse answers both pull and push. Push responses carry no records.
type SyncResponse struct {
	ServerTime int64         `json:"serverTime"`
	Snapshots  []SnapshotDTO `json:"snapshots"`
	Categories []CategoryDTO `json:"categories"`
}

// SignUpRequest registers a local account.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest exchanges a password for tokens.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is the grant returned by signup, login and refresh.
// ExpiresIn is the access token lifetime in milliseconds; zero means unknown.
type AuthResponse struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RemoteError is a non-successful response from the service.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("syncapi: status %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("syncapi: status %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the status onto ErrUnauthorized, ErrUnavailable or ErrRejected.
func (e *RemoteError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Code == CodeUnauthorized:
		return ErrUnauthorized
	case e.Status >= http.StatusInternalServerError:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}
