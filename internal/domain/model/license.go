package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"bulc-license-server/internal/domain"
)

type LicenseStatus string

const (
	LicenseStatusPending   LicenseStatus = "PENDING"
	LicenseStatusActive    LicenseStatus = "ACTIVE"
	LicenseStatusSuspended LicenseStatus = "SUSPENDED"
	LicenseStatusRevoked   LicenseStatus = "REVOKED"

	// Effective-only statuses, never stored.
	LicenseStatusExpiredGrace LicenseStatus = "EXPIRED_GRACE"
	LicenseStatusExpiredHard  LicenseStatus = "EXPIRED_HARD"
)

type LicenseType string

const (
	LicenseTypeTrial        LicenseType = "TRIAL"
	LicenseTypeSubscription LicenseType = "SUBSCRIPTION"
	LicenseTypePerpetual    LicenseType = "PERPETUAL"
)

type OwnerType string

const (
	OwnerTypeUser OwnerType = "USER"
	// OwnerTypeOrg is a placeholder; organization ownership is not modeled.
	OwnerTypeOrg OwnerType = "ORG"
)

type UsageCategory string

const (
	UsageCategoryCommercial  UsageCategory = "COMMERCIAL"
	UsageCategoryEducational UsageCategory = "EDUCATIONAL"
	UsageCategoryEvaluation  UsageCategory = "EVALUATION"
)

// License is the aggregate root for a usage right. It owns its Activations:
// external code must never mutate an Activation except through the License.
type License struct {
	ID         string
	OwnerType  OwnerType
	OwnerID    string
	ProductID  string
	PlanID     string // empty when issued without a plan
	Type       LicenseType
	Usage      UsageCategory
	Status     LicenseStatus
	IssuedAt   time.Time
	ValidFrom  time.Time
	ValidUntil *time.Time // nil iff Type == PERPETUAL

	Policy        PolicySnapshot
	LicenseKey    string
	SourceOrderID string

	Activations []*Activation

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewLicense constructs a PENDING license with its policy snapshot captured.
func NewLicense(id string, ownerType OwnerType, ownerID, productID, planID string,
	licenseType LicenseType, usage UsageCategory, validFrom time.Time, validUntil *time.Time,
	policy PolicySnapshot, licenseKey, sourceOrderID string) (*License, error) {
	if id == "" || ownerID == "" || productID == "" || licenseKey == "" {
		return nil, domain.ErrInvalidArgument
	}
	if licenseType == LicenseTypePerpetual && validUntil != nil {
		return nil, domain.ErrInvalidArgument
	}
	if licenseType != LicenseTypePerpetual && validUntil == nil {
		return nil, domain.ErrInvalidArgument
	}
	if usage == "" {
		usage = UsageCategoryCommercial
	}
	now := time.Now()
	if validFrom.IsZero() {
		validFrom = now
	}
	return &License{
		ID:            id,
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		ProductID:     productID,
		PlanID:        planID,
		Type:          licenseType,
		Usage:         usage,
		Status:        LicenseStatusPending,
		IssuedAt:      now,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		Policy:        policy.Normalize(),
		LicenseKey:    licenseKey,
		SourceOrderID: sourceOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GenerateLicenseKey produces an opaque key in XXXX-XXXX-XXXX-XXXX form.
func GenerateLicenseKey() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12] + "-" + raw[12:16]
}

// Activate completes issuance. Only a PENDING license can be activated.
func (l *License) Activate() error {
	if l.Status != LicenseStatusPending {
		return domain.NewLicenseErrorf(domain.CodeInvalidLicenseState,
			"only a pending license can be activated (current: %s)", l.Status)
	}
	l.Status = LicenseStatusActive
	l.UpdatedAt = time.Now()
	return nil
}

// Suspend pauses the license. A revoked license cannot be suspended.
func (l *License) Suspend(reason string) error {
	if l.Status == LicenseStatusRevoked {
		return domain.NewLicenseErrorf(domain.CodeInvalidLicenseState,
			"a revoked license cannot be suspended")
	}
	_ = reason // recorded by the audit trail, not on the aggregate
	l.Status = LicenseStatusSuspended
	l.UpdatedAt = time.Now()
	return nil
}

// Revoke is absorbing: the license is terminal and every owned activation is
// force-deactivated.
func (l *License) Revoke(reason string) {
	l.Status = LicenseStatusRevoked
	l.UpdatedAt = time.Now()
	if reason == "" {
		reason = DeactivateReasonRevoked
	}
	for _, a := range l.Activations {
		a.Deactivate(reason)
	}
}

// Renew extends a subscription and forces the license back to ACTIVE.
func (l *License) Renew(newValidUntil time.Time) error {
	if l.Type != LicenseTypeSubscription {
		return domain.NewLicenseErrorf(domain.CodeInvalidLicenseState,
			"only subscription licenses can be renewed")
	}
	if l.Status == LicenseStatusRevoked {
		return domain.NewLicenseErrorf(domain.CodeInvalidLicenseState,
			"a revoked license cannot be renewed")
	}
	l.ValidUntil = &newValidUntil
	l.Status = LicenseStatusActive
	l.UpdatedAt = time.Now()
	return nil
}

// IsOwnedBy reports whether the license belongs to the given user.
func (l *License) IsOwnedBy(ownerID string) bool {
	return l.OwnerType == OwnerTypeUser && l.OwnerID == ownerID
}

// EffectiveStatus computes the status at time now. Pure; never stored.
// REVOKED/SUSPENDED pass through; perpetual licenses keep their stored status;
// otherwise the validity window decides ACTIVE / EXPIRED_GRACE / EXPIRED_HARD.
func (l *License) EffectiveStatus(now time.Time) LicenseStatus {
	if l.Status == LicenseStatusRevoked || l.Status == LicenseStatusSuspended {
		return l.Status
	}
	if l.ValidUntil == nil {
		return l.Status
	}
	if now.Before(*l.ValidUntil) {
		if l.Status == LicenseStatusPending {
			return l.Status
		}
		return LicenseStatusActive
	}
	graceEnd := l.ValidUntil.Add(time.Duration(l.Policy.GracePeriodDays) * 24 * time.Hour)
	if now.Before(graceEnd) {
		return LicenseStatusExpiredGrace
	}
	return LicenseStatusExpiredHard
}

// FindActivation returns the activation for a device fingerprint, or nil.
func (l *License) FindActivation(fingerprint string) *Activation {
	for _, a := range l.Activations {
		if a.DeviceFingerprint == fingerprint {
			return a
		}
	}
	return nil
}

// ActiveDeviceCount counts activations holding a device slot (ACTIVE or STALE).
func (l *License) ActiveDeviceCount() int {
	n := 0
	for _, a := range l.Activations {
		if a.Status == ActivationStatusActive || a.Status == ActivationStatusStale {
			n++
		}
	}
	return n
}

// ActiveSessions returns activations counting as live sessions at now,
// ordered as stored.
func (l *License) ActiveSessions(sessionThreshold time.Time) []*Activation {
	var out []*Activation
	for _, a := range l.Activations {
		if a.IsLiveSession(sessionThreshold) {
			out = append(out, a)
		}
	}
	return out
}

// CanActivate reports whether the device may hold (or keep) a device slot at
// now. A device that already holds an ACTIVE slot always may; otherwise the
// device cap applies.
func (l *License) CanActivate(fingerprint string, now time.Time) bool {
	eff := l.EffectiveStatus(now)
	if eff != LicenseStatusActive && eff != LicenseStatusExpiredGrace {
		return false
	}
	if a := l.FindActivation(fingerprint); a != nil && a.Status == ActivationStatusActive {
		return true
	}
	return l.ActiveDeviceCount() < l.Policy.MaxActivations
}

// AddActivation upserts the activation for a device: an existing record is
// reactivated and refreshed, otherwise a new one is created. Idempotent per
// fingerprint — the activation count never grows for a known device.
func (l *License) AddActivation(fingerprint string, meta ClientMeta) (*Activation, error) {
	if existing := l.FindActivation(fingerprint); existing != nil {
		if existing.Status == ActivationStatusActive || existing.Status == ActivationStatusStale {
			existing.UpdateHeartbeat(meta)
			return existing, nil
		}
		if err := existing.Reactivate(meta); err != nil {
			return nil, err
		}
		return existing, nil
	}
	a := newActivation(uuid.NewString(), l.ID, fingerprint, meta)
	l.Activations = append(l.Activations, a)
	l.UpdatedAt = time.Now()
	return a, nil
}

// ExpireActivations cascades a hard expiry to every owned activation still
// holding a slot.
func (l *License) ExpireActivations() {
	for _, a := range l.Activations {
		if a.Status == ActivationStatusActive || a.Status == ActivationStatusStale {
			a.Expire()
		}
	}
	l.UpdatedAt = time.Now()
}
