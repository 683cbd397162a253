package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/adapter"
)

var _ adapter.OfflineTokenSigner = (*OfflineSigner)(nil)

// OfflineClaims is the payload a client verifies locally while disconnected.
// The window is bounded by the license policy's allowOfflineDays.
type OfflineClaims struct {
	DeviceFingerprint string   `json:"dfp"`
	LicenseValidUntil *int64   `json:"validUntil,omitempty"` // unix seconds; absent for perpetual
	MaxActivations    int      `json:"maxActivations"`
	Entitlements      []string `json:"entitlements"`
	jwt.RegisteredClaims
}

// OfflineSigner signs offline tokens with a shared HMAC secret. The client
// ships the matching secret embedded; rotation invalidates outstanding tokens
// on their next validation.
type OfflineSigner struct {
	secret []byte
}

func NewOfflineSigner(secret string) (*OfflineSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("offline token secret must be at least 32 bytes")
	}
	return &OfflineSigner{secret: []byte(secret)}, nil
}

func (s *OfflineSigner) Sign(lic *model.License, a *model.Activation, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(time.Duration(lic.Policy.AllowOfflineDays) * 24 * time.Hour)
	// The token never outlives the license itself (grace included).
	if lic.ValidUntil != nil {
		hardEnd := lic.ValidUntil.Add(time.Duration(lic.Policy.GracePeriodDays) * 24 * time.Hour)
		if hardEnd.Before(expiresAt) {
			expiresAt = hardEnd
		}
	}

	claims := OfflineClaims{
		DeviceFingerprint: a.DeviceFingerprint,
		MaxActivations:    lic.Policy.MaxActivations,
		Entitlements:      lic.Policy.Entitlements,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   lic.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if lic.ValidUntil != nil {
		vu := lic.ValidUntil.Unix()
		claims.LicenseValidUntil = &vu
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies an offline token. Server-side it only backs tests and
// support tooling; clients verify with their embedded copy of the secret.
func (s *OfflineSigner) Parse(tok string) (*OfflineClaims, error) {
	claims := &OfflineClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid offline token")
	}
	return claims, nil
}
