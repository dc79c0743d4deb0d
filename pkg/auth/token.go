package auth

import (
	"errors"
	"fmt"
	"time"

	"federegistry/pkg/types"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of every credential a node issues.
type Claims struct {
	UserID    types.UserID `json:"user_id"`
	Privilege Privilege    `json:"privilege"`
	jwt.RegisteredClaims
}

// Issuer signs and validates this node's credentials.
type Issuer struct {
	userID types.UserID
	secret []byte
	now    func() time.Time
}

func NewIssuer(userID types.UserID, secret []byte) *Issuer {
	return &Issuer{
		userID: userID,
		secret: secret,
		now:    time.Now,
	}
}

// UserID returns the identity this issuer signs for.
func (i *Issuer) UserID() types.UserID {
	return i.userID
}

// Issue signs a credential for identity that expires at expiresAt.
func (i *Issuer) Issue(identity types.UserID, expiresAt time.Time, privilege Privilege) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("cannot issue a credential without an identity")
	}
	now := i.now()
	claims := Claims{
		UserID:    identity,
		Privilege: privilege,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// IssueGuest issues a guest credential for this node.
func (i *Issuer) IssueGuest(expiresAt time.Time) (string, error) {
	return i.Issue(i.userID, expiresAt, PrivilegeGuest)
}

// Validate checks the signature and expiry of a credential this node
// issued.
func (i *Issuer) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID != i.userID {
		return nil, fmt.Errorf("%w: issued for %s", ErrInvalidToken, claims.UserID)
	}
	return claims, nil
}

// DecodeUnverified reads a credential's claims without checking its
// signature or expiry.
func DecodeUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// DeriveIdentity returns the identity a credential names. The result is
// unverified: it is good for routing a call and nothing else, and must not
// be treated as authenticated until a call authorized by the same
// credential succeeds.
func DeriveIdentity(token string) (types.UserID, error) {
	claims, err := DecodeUnverified(token)
	if err != nil {
		return "", err
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: no user_id claim", ErrInvalidToken)
	}
	return claims.UserID, nil
}
