package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bulc-license-server/internal/domain/ports/adapter"
)

var _ adapter.SessionTokenSigner = (*SessionSigner)(nil)

// SessionClaims is the short-lived, device-bound proof of an admitted session.
// Clients verify it with the published RSA public key; the issuer and audience
// both carry the product code.
type SessionClaims struct {
	DeviceFingerprint string   `json:"dfp"`
	Entitlements      []string `json:"ent"`
	jwt.RegisteredClaims
}

// SessionSigner signs session tokens with RS256. Construction without a key
// yields a disabled signer: validation then simply omits the session token.
type SessionSigner struct {
	key *rsa.PrivateKey
	ttl time.Duration
}

// NewSessionSigner loads the PEM private key at path. An empty path is the
// explicit disabled configuration.
func NewSessionSigner(keyPath string, ttl time.Duration) (*SessionSigner, error) {
	if keyPath == "" {
		return &SessionSigner{ttl: ttl}, nil
	}
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read session signing key: %w", err)
	}
	key, err := parseRSAPrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return &SessionSigner{key: key, ttl: ttl}, nil
}

// NewSessionSignerFromKey wires an already-parsed key; used by tests.
func NewSessionSignerFromKey(key *rsa.PrivateKey, ttl time.Duration) *SessionSigner {
	return &SessionSigner{key: key, ttl: ttl}
}

func (s *SessionSigner) Enabled() bool { return s != nil && s.key != nil }

func (s *SessionSigner) Sign(licenseID, productCode, deviceFingerprint string, entitlements []string, now time.Time) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	claims := SessionClaims{
		DeviceFingerprint: deviceFingerprint,
		Entitlements:      entitlements,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    productCode,
			Audience:  jwt.ClaimStrings{productCode},
			Subject:   licenseID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

// Parse verifies a session token against the signer's public key. RS256 only:
// a token claiming any other method is rejected outright.
func (s *SessionSigner) Parse(tok string) (*SessionClaims, error) {
	if !s.Enabled() {
		return nil, errors.New("session signing disabled")
	}
	claims := &SessionClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return &s.key.PublicKey, nil
	})
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// parseRSAPrivateKey accepts PKCS#8 and PKCS#1 PEM blocks.
func parseRSAPrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("session signing key: no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("session signing key: not an RSA key")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("session signing key: %w", err)
	}
	return key, nil
}
