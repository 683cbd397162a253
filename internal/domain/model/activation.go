package model

import (
	"time"

	"bulc-license-server/internal/domain"
)

type ActivationStatus string

const (
	ActivationStatusActive      ActivationStatus = "ACTIVE"
	ActivationStatusStale       ActivationStatus = "STALE"
	ActivationStatusDeactivated ActivationStatus = "DEACTIVATED"
	ActivationStatusExpired     ActivationStatus = "EXPIRED"
)

// Deactivation reasons recorded on Activation.DeactivatedReason.
const (
	DeactivateReasonUserRequest   = "USER_REQUEST"
	DeactivateReasonForceValidate = "FORCE_VALIDATE"
	DeactivateReasonAdminAction   = "ADMIN_ACTION"
	DeactivateReasonRevoked       = "LICENSE_REVOKED"
)

// Activation binds a license to one device. At most one exists per
// (license, deviceFingerprint); re-activation upserts, never duplicates.
// Owned exclusively by its License: all mutation goes through License methods.
type Activation struct {
	ID                string
	LicenseID         string
	DeviceFingerprint string
	Status            ActivationStatus
	ActivatedAt       time.Time
	LastSeenAt        time.Time

	ClientVersion     string
	ClientOS          string
	LastIP            string
	DeviceDisplayName string

	DeactivatedAt     *time.Time
	DeactivatedReason string

	OfflineToken          string
	OfflineTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newActivation(id, licenseID, fingerprint string, meta ClientMeta) *Activation {
	now := time.Now()
	return &Activation{
		ID:                id,
		LicenseID:         licenseID,
		DeviceFingerprint: fingerprint,
		Status:            ActivationStatusActive,
		ActivatedAt:       now,
		LastSeenAt:        now,
		ClientVersion:     meta.ClientVersion,
		ClientOS:          meta.ClientOS,
		LastIP:            meta.LastIP,
		DeviceDisplayName: meta.DeviceDisplayName,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ClientMeta carries the device-reported metadata refreshed on every call.
type ClientMeta struct {
	ClientVersion     string
	ClientOS          string
	LastIP            string
	DeviceDisplayName string
}

// UpdateHeartbeat refreshes lastSeenAt and client metadata. A STALE
// activation returns to ACTIVE.
func (a *Activation) UpdateHeartbeat(meta ClientMeta) {
	now := time.Now()
	a.LastSeenAt = now
	a.ClientVersion = meta.ClientVersion
	a.ClientOS = meta.ClientOS
	a.LastIP = meta.LastIP
	if meta.DeviceDisplayName != "" {
		a.DeviceDisplayName = meta.DeviceDisplayName
	}
	if a.Status == ActivationStatusStale {
		a.Status = ActivationStatusActive
	}
	a.UpdatedAt = now
}

// Reactivate returns a previously deactivated or stale device to ACTIVE.
// EXPIRED is terminal for reactivation.
func (a *Activation) Reactivate(meta ClientMeta) error {
	if a.Status == ActivationStatusExpired {
		return domain.NewLicenseError(domain.CodeInvalidActivationState)
	}
	now := time.Now()
	a.Status = ActivationStatusActive
	a.LastSeenAt = now
	a.ClientVersion = meta.ClientVersion
	a.ClientOS = meta.ClientOS
	a.LastIP = meta.LastIP
	if meta.DeviceDisplayName != "" {
		a.DeviceDisplayName = meta.DeviceDisplayName
	}
	a.DeactivatedAt = nil
	a.DeactivatedReason = ""
	a.UpdatedAt = now
	return nil
}

// Deactivate releases the device and invalidates its offline token.
func (a *Activation) Deactivate(reason string) {
	now := time.Now()
	a.Status = ActivationStatusDeactivated
	a.DeactivatedAt = &now
	a.DeactivatedReason = reason
	a.OfflineToken = ""
	a.OfflineTokenExpiresAt = nil
	a.UpdatedAt = now
}

// MarkStale transitions a long-inactive device out of ACTIVE. No-op from any
// other status.
func (a *Activation) MarkStale() {
	if a.Status == ActivationStatusActive {
		a.Status = ActivationStatusStale
		a.UpdatedAt = time.Now()
	}
}

// Expire terminates the activation when its license hard-expires or is
// revoked. Clears the offline token.
func (a *Activation) Expire() {
	a.Status = ActivationStatusExpired
	a.OfflineToken = ""
	a.OfflineTokenExpiresAt = nil
	a.UpdatedAt = time.Now()
}

func (a *Activation) IssueOfflineToken(token string, expiresAt time.Time) {
	a.OfflineToken = token
	a.OfflineTokenExpiresAt = &expiresAt
	a.UpdatedAt = time.Now()
}

func (a *Activation) RevokeOfflineToken() {
	a.OfflineToken = ""
	a.OfflineTokenExpiresAt = nil
	a.UpdatedAt = time.Now()
}

func (a *Activation) HasValidOfflineToken(now time.Time) bool {
	return a.OfflineToken != "" && a.OfflineTokenExpiresAt != nil && now.Before(*a.OfflineTokenExpiresAt)
}

// ShouldBeStale reports whether the device has been ACTIVE but silent longer
// than thresholdDays.
func (a *Activation) ShouldBeStale(thresholdDays int, now time.Time) bool {
	if a.Status != ActivationStatusActive {
		return false
	}
	return a.LastSeenAt.Before(now.Add(-time.Duration(thresholdDays) * 24 * time.Hour))
}

// IsLiveSession reports whether the activation counts as a concurrent session
// at time now: ACTIVE and seen within the session TTL.
func (a *Activation) IsLiveSession(sessionThreshold time.Time) bool {
	return a.Status == ActivationStatusActive && !a.LastSeenAt.Before(sessionThreshold)
}
