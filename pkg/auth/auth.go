package auth

import (
	"context"
	"errors"
	"time"

	"federegistry/pkg/types"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// Privilege scopes what a credential may do on the node that issued it.
type Privilege string

const (
	// PrivilegeUser is held by the node's own operator.
	PrivilegeUser Privilege = "user"
	// PrivilegeGuest may use remote storage and read task results.
	PrivilegeGuest Privilege = "guest"
)

// Allows reports whether p covers required.
func (p Privilege) Allows(required Privilege) bool {
	switch p {
	case PrivilegeUser:
		return true
	case PrivilegeGuest:
		return required == PrivilegeGuest
	default:
		return false
	}
}

// GuestExpiry is the lifetime of a freshly published guest credential.
const GuestExpiry = 31 * 24 * time.Hour

// Identity is an authenticated caller of this node.
type Identity struct {
	// Issuer is the node that issued the presented credential (this node).
	Issuer types.UserID
	// RequesterID is the caller's claimed identity. It is used to scope
	// remote-storage holder keys.
	RequesterID types.UserID
	Privilege   Privilege
	ExpiresAt   time.Time
}

// TokenValidator validates credentials presented to this node.
type TokenValidator interface {
	Validate(token string) (*Claims, error)
}

// CredentialIssuer issues time-bounded credentials scoped to an identity.
type CredentialIssuer interface {
	UserID() types.UserID
	Issue(identity types.UserID, expiresAt time.Time, privilege Privilege) (string, error)
}

// AuthConfig holds transport security configuration
type AuthConfig struct {
	Enabled           bool   `json:"enabled"`
	CAPath            string `json:"ca_cert"`
	CertPath          string `json:"cert"`
	KeyPath           string `json:"key"`
	ClientCAPath      string `json:"client_ca,omitempty"`
	RequireClientAuth bool   `json:"require_client_auth"`
	MinTLSVersion     string `json:"min_tls_version,omitempty"`
}

// DefaultAuthConfig returns default authentication configuration
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		Enabled:           false,
		RequireClientAuth: false,
		MinTLSVersion:     "1.2",
	}
}

// Validate checks if the authentication configuration is valid
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.CAPath == "" {
		return errors.New("CA certificate path is required when TLS is enabled")
	}

	if c.CertPath == "" || c.KeyPath == "" {
		return errors.New("certificate and key paths are required when TLS is enabled")
	}

	if c.RequireClientAuth && c.ClientCAPath == "" {
		return errors.New("client CA path is required when client authentication is required")
	}

	return nil
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// GetIdentityFromContext retrieves the identity from context
func GetIdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok
}
