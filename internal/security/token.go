package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims datagate issues and accepts.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenVerifier turns HS256 bearer tokens into identities.
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier creates a verifier for tokens signed with secret.
// An empty issuer accepts tokens from any issuer.
func NewTokenVerifier(secret []byte, issuer string) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	return &TokenVerifier{secret: secret, issuer: issuer}, nil
}

// Verify validates raw and returns the identity it names.
// Unknown role names are rejected.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("verify token: subject is empty")
	}

	id := Identity{Name: claims.Subject}
	for _, name := range claims.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return Identity{}, fmt.Errorf("verify token: %w", err)
		}
		id.Roles = append(id.Roles, role)
	}
	if len(id.Roles) == 0 {
		id.Roles = []Role{RoleNone}
	}
	return id, nil
}

// TokenIssuer signs identities into HS256 tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret.
func NewTokenIssuer(secret []byte, issuer string) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is empty")
	}
	return &TokenIssuer{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for id valid for ttl. A zero ttl issues a token
// without expiry.
func (i *TokenIssuer) Issue(id Identity, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.Name,
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	for _, r := range id.Roles {
		claims.Roles = append(claims.Roles, string(r))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
