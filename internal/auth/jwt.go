// Package auth issues and verifies the JWT and API-key credentials callers
// present on the HTTP surface.
package auth

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	issuer   = "nexmedis-api"
	audience = "nexmedis-clients"
	tokenTTL = 24 * time.Hour
)

// Claims is the JWT payload carried in Authorization: Bearer tokens.
type Claims struct {
	CallerID string `json:"caller_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

type jwtClaims struct {
	jwt.Claims
	CallerID string `json:"caller_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}

// TokenIssuer signs and verifies caller JWTs with a shared HS256 secret.
type TokenIssuer struct {
	signer jose.Signer
	secret []byte
}

// NewTokenIssuer builds a TokenIssuer from the configured JWT secret.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	key := []byte(secret)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("building jwt signer: %w", err)
	}
	return &TokenIssuer{signer: signer, secret: key}, nil
}

// Issue signs a new token carrying the given claims.
func (t *TokenIssuer) Issue(c Claims) (string, error) {
	now := time.Now()
	cl := jwtClaims{
		Claims: jwt.Claims{
			Issuer:   issuer,
			Audience: jwt.Audience{audience},
			Subject:  c.CallerID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		CallerID: c.CallerID,
		Email:    c.Email,
		Name:     c.Name,
	}

	token, err := jwt.Signed(t.signer).Claims(cl).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return token, nil
}

// Verify parses and validates token, returning its claims if the signature,
// issuer, and audience all match.
func (t *TokenIssuer) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Claims{}, fmt.Errorf("parsing jwt: %w", err)
	}

	var cl jwtClaims
	if err := parsed.Claims(t.secret, &cl); err != nil {
		return Claims{}, fmt.Errorf("verifying jwt signature: %w", err)
	}

	expected := jwt.Expected{
		Issuer:      issuer,
		AnyAudience: jwt.Audience{audience},
	}
	if err := cl.Claims.Validate(expected); err != nil {
		return Claims{}, fmt.Errorf("validating jwt claims: %w", err)
	}

	return Claims{CallerID: cl.CallerID, Email: cl.Email, Name: cl.Name}, nil
}
