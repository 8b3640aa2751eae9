package auth

import (
	"errors"
	"fmt"
	"time"

	"softphone/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenType   = errors.New("auth: unexpected token type")
	ErrNoProfile   = errors.New("auth: token names no profile")
	ErrNoRole      = errors.New("auth: access token carries no role")
	ErrTokenFormat = errors.New("auth: malformed token")
)

const clockSkew = 30 * time.Second

// Manager issues and checks the tokens the softphone UI presents on control
// requests and on the event websocket.
//
// The user_id claim names the profile whose SIP account the engine registers,
// so a token is effectively a grant to drive that one extension.
type Manager struct {
	key        []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		key:        []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		// Time-based checks run in Verify against the caller's clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair signs a short-lived access token and a refresh token for one profile.
// Both carry the role: the softphone has no user directory to re-resolve it from on refresh.
func (m *Manager) IssuePair(now time.Time, userID, role string) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, ErrNoProfile
	}
	access, err := m.sign(Claims{UserID: userID, Role: role, TokenType: TokenTypeAccess}, now, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(Claims{UserID: userID, Role: role, TokenType: TokenTypeRefresh}, now, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid refresh token for a new pair bound to the same profile.
func (m *Manager) Refresh(refreshToken string, now time.Time) (TokenPair, error) {
	claims, err := m.Verify(refreshToken, TokenTypeRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	return m.IssuePair(now, claims.UserID, claims.Role)
}

// Verify checks signature, lifetime, issuer/audience when configured, and the token type.
func (m *Manager) Verify(raw string, expected TokenType, now time.Time) (Claims, error) {
	var claims Claims
	if _, err := m.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenFormat, err)
	}
	if err := m.validator(now).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}
	if err := claims.check(expected); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (m *Manager) validator(now time.Time) *jwt.Validator {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	return jwt.NewValidator(opts...)
}

func (m *Manager) sign(c Claims, now time.Time, ttl time.Duration) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   c.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
}
