// Package auth verifies and mints the bearer tokens that identify mailbox
// callers.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	mailbox "github.com/rbaliyan/workspace-mailbox"
)

var (
	ErrInvalidToken      = errors.New("auth: invalid or expired token")
	ErrMissingSigningKey = errors.New("auth: no signing key configured")
)

// Claims are the token claims. Subject identifies the caller.
type Claims struct {
	SuperAdmin bool `json:"super_admin"`
	jwt.RegisteredClaims
}

// Tokens verifies tokens and, when it holds a signing key, mints them.
type Tokens struct {
	method    jwt.SigningMethod
	verifyKey any
	signKey   any
	issuer    string
}

// NewHMAC uses HS256 with a shared secret for both directions.
func NewHMAC(secret []byte, issuer string) *Tokens {
	return &Tokens{
		method:    jwt.SigningMethodHS256,
		verifyKey: secret,
		signKey:   secret,
		issuer:    issuer,
	}
}

// NewECDSA uses ES256. privateKey may be nil for verify-only deployments.
func NewECDSA(publicKey *ecdsa.PublicKey, privateKey *ecdsa.PrivateKey, issuer string) *Tokens {
	t := &Tokens{
		method:    jwt.SigningMethodES256,
		verifyKey: publicKey,
		issuer:    issuer,
	}
	if privateKey != nil {
		t.signKey = privateKey
	}
	return t
}

// Verify parses a token and returns the caller it names.
func (t *Tokens) Verify(tokenString string) (mailbox.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return t.verifyKey, nil
	}, opts...)
	if err != nil {
		return mailbox.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return mailbox.Caller{}, ErrInvalidToken
	}

	return mailbox.Caller{Subject: claims.Subject, SuperAdmin: claims.SuperAdmin}, nil
}

// Mint signs a token for caller valid for ttl.
func (t *Tokens) Mint(caller mailbox.Caller, ttl time.Duration) (string, error) {
	if t.signKey == nil {
		return "", ErrMissingSigningKey
	}

	now := time.Now().UTC()
	claims := Claims{
		SuperAdmin: caller.SuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.Subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.signKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// LoadECDSAPrivateKey loads a PEM encoded P-256 private key.
func LoadECDSAPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}

	privateKey, err := jwt.ParseECPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("auth: parse EC private key: %w", err)
	}
	return privateKey, nil
}

// LoadECDSAPublicKey loads a PEM encoded public key.
func LoadECDSAPublicKey(path string) (*ecdsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("auth: parse EC public key: %w", err)
	}
	return publicKey, nil
}
