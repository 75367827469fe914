package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidToken indicates a token that failed signature, audience or expiry checks.
	ErrInvalidToken = errors.New("auth: invalid token")

	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("access and refresh audiences must be provided")
	errSharedAudience       = errors.New("access and refresh audiences must differ")
	errNegativeTTL          = errors.New("token lifetimes must not be negative")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the service's JWT issuer. Zero lifetimes
// fall back to one hour for access tokens and thirty days for refresh tokens.
type TokenIssuerConfig struct {
	SigningSecret   []byte
	Issuer          string
	AccessAudience  string
	RefreshAudience string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	Clock           func() time.Time
}

// TokenClaims are the claims carried by both token kinds. Generation is the
// account's token generation at issue time; bumping it on the account
// invalidates outstanding refresh tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Generation int64 `json:"gen"`
}

// TokenPair is a freshly issued grant. ExpiresIn is the access token
// lifetime in milliseconds.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// TokenIssuer issues and validates HS256 access and refresh tokens.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer validates the configuration and applies default lifetimes.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	accessAudience := strings.TrimSpace(cfg.AccessAudience)
	refreshAudience := strings.TrimSpace(cfg.RefreshAudience)
	if accessAudience == "" || refreshAudience == "" {
		return nil, errMissingAudience
	}
	if accessAudience == refreshAudience {
		return nil, errSharedAudience
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errNegativeTTL
	}
	accessTTL := cfg.AccessTTL
	if accessTTL == 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = defaultRefreshTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret:   cfg.SigningSecret,
			Issuer:          issuer,
			AccessAudience:  accessAudience,
			RefreshAudience: refreshAudience,
			AccessTTL:       accessTTL,
			RefreshTTL:      refreshTTL,
			Clock:           clock,
		},
		clock: clock,
	}, nil
}

// IssuePair produces an access token and a refresh token for the subject.
func (i *TokenIssuer) IssuePair(_ context.Context, subject string, generation int64) (TokenPair, error) {
	if strings.TrimSpace(subject) == "" {
		return TokenPair{}, errMissingSubjectClaim
	}
	now := i.clock().UTC()
	access, err := i.sign(subject, generation, i.config.AccessAudience, now, i.config.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(subject, generation, i.config.RefreshAudience, now, i.config.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    i.config.AccessTTL.Milliseconds(),
	}, nil
}

// ValidateAccessToken ensures the access token is well formed and returns the subject.
func (i *TokenIssuer) ValidateAccessToken(tokenString string) (string, error) {
	claims, err := i.parse(tokenString, i.config.AccessAudience)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ValidateRefreshToken ensures the refresh token is well formed and returns its claims.
// Access tokens are rejected because they carry a different audience.
func (i *TokenIssuer) ValidateRefreshToken(tokenString string) (TokenClaims, error) {
	claims, err := i.parse(tokenString, i.config.RefreshAudience)
	if err != nil {
		return TokenClaims{}, err
	}
	return *claims, nil
}

func (i *TokenIssuer) sign(subject string, generation int64, audience string, now time.Time, ttl time.Duration) (string, error) {
	tokenID, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   subject,
			Issuer:    i.config.Issuer,
			Audience:  []string{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Generation: generation,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.SigningSecret)
}

func (i *TokenIssuer) parse(tokenString, audience string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingSubjectClaim)
	}
	return claims, nil
}
