package adapter

import (
	"time"

	"bulc-license-server/internal/domain/model"
)

// OfflineTokenSigner produces the long-lived artifact a client verifies
// locally while offline. Symmetric-key signed.
type OfflineTokenSigner interface {
	// Sign returns the token and its expiry (now + the policy's offline window).
	Sign(license *model.License, activation *model.Activation, now time.Time) (token string, expiresAt time.Time, err error)
}

// SessionTokenSigner produces the short-lived, device-bound artifact issued on
// every successful validate/heartbeat/force-validate. Asymmetric-key signed.
//
// Enabled reports whether a signing key is loaded. When it is not, Sign
// returns "" and no error: callers treat an absent token as "feature unlock
// undetermined" rather than a failed operation.
type SessionTokenSigner interface {
	Enabled() bool
	Sign(licenseID, productCode, deviceFingerprint string, entitlements []string, now time.Time) (string, error)
}
