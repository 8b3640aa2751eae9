package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// UserID selects the softphone profile (and with it the SIP account) the caller controls.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) check(expected TokenType) error {
	switch {
	case c.TokenType != expected:
		return ErrTokenType
	case c.UserID == "":
		return ErrNoProfile
	case expected == TokenTypeAccess && c.Role == "":
		return ErrNoRole
	}
	return nil
}
