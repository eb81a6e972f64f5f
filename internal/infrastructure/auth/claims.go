package auth

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access tokens from the identity service's refresh tokens
type TokenType string

// TokenTypeAccess is the only type the gateway accepts
const TokenTypeAccess TokenType = "access"

// Gateway permissions carried in the permissions claim
const (
	PermissionConnectionsRead  = "crm:connections:read"
	PermissionConnectionsWrite = "crm:connections:write"
	PermissionFieldsRead       = "crm:fields:read"
	PermissionFieldsDiscover   = "crm:fields:discover"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingTenantID  = errors.New("missing tenant_id in claims")
	ErrMissingUserID    = errors.New("missing user_id in claims")
)

// claimErrors are surfaced as-is; every other parse failure is ErrInvalidToken
var claimErrors = []error{ErrInvalidTokenType, ErrMissingTenantID, ErrMissingUserID, ErrInvalidClaims}

// Claims is the payload of a gateway access token
type Claims struct {
	jwt.RegisteredClaims
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	TokenType   TokenType `json:"token_type"`
}

var _ jwt.ClaimsValidator = (*Claims)(nil)

// Validate runs after the registered claims have been checked by the parser
func (c *Claims) Validate() error {
	switch {
	case c.TokenType != TokenTypeAccess:
		return ErrInvalidTokenType
	case c.TenantID == "":
		return ErrMissingTenantID
	case c.UserID == "":
		return ErrMissingUserID
	}
	if _, err := uuid.Parse(c.TenantID); err != nil {
		return fmt.Errorf("%w: tenant_id is not a uuid", ErrInvalidClaims)
	}
	return nil
}

func (c *Claims) TenantUUID() (uuid.UUID, error) { return uuid.Parse(c.TenantID) }

func (c *Claims) UserUUID() (uuid.UUID, error) { return uuid.Parse(c.UserID) }

// HasPermission reports whether permission was granted
func (c *Claims) HasPermission(permission string) bool {
	return slices.Contains(c.Permissions, permission)
}

// HasAnyPermission reports whether at least one of permissions was granted
func (c *Claims) HasAnyPermission(permissions ...string) bool {
	return slices.ContainsFunc(permissions, c.HasPermission)
}
