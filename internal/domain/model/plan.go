package model

import (
	"time"

	"bulc-license-server/internal/domain"
)

// LicensePlan is the policy template licenses are issued from. Admin-managed;
// a license captures a PolicySnapshot of the plan at issuance and never reads
// the plan again.
type LicensePlan struct {
	ID                    string
	ProductID             string
	Code                  string
	Name                  string
	Description           string
	LicenseType           LicenseType
	DurationDays          int
	GraceDays             int
	MaxActivations        int
	MaxConcurrentSessions int
	AllowOfflineDays      int
	Entitlements          []string
	Active                bool
	Deleted               bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewLicensePlan validates and constructs a plan.
func NewLicensePlan(id, productID, code, name, description string, licenseType LicenseType,
	durationDays, graceDays, maxActivations, maxConcurrentSessions, allowOfflineDays int,
	entitlements []string) (*LicensePlan, error) {
	if id == "" || productID == "" || code == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}
	if licenseType != LicenseTypePerpetual && durationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if graceDays < 0 || maxActivations <= 0 || maxConcurrentSessions <= 0 || allowOfflineDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &LicensePlan{
		ID:                    id,
		ProductID:             productID,
		Code:                  code,
		Name:                  name,
		Description:           description,
		LicenseType:           licenseType,
		DurationDays:          durationDays,
		GraceDays:             graceDays,
		MaxActivations:        maxActivations,
		MaxConcurrentSessions: maxConcurrentSessions,
		AllowOfflineDays:      allowOfflineDays,
		Entitlements:          append([]string(nil), entitlements...),
		Active:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

func (p *LicensePlan) IsZero() bool { return p == nil || p.ID == "" }

// IsAvailable reports whether the plan may be used for issuance.
func (p *LicensePlan) IsAvailable() bool { return p != nil && p.Active && !p.Deleted }

// Update replaces the editable plan terms. Existing licenses keep their
// snapshot and are unaffected.
func (p *LicensePlan) Update(code, name, description string, licenseType LicenseType,
	durationDays, graceDays, maxActivations, maxConcurrentSessions, allowOfflineDays int,
	entitlements []string) {
	p.Code = code
	p.Name = name
	p.Description = description
	p.LicenseType = licenseType
	p.DurationDays = durationDays
	p.GraceDays = graceDays
	p.MaxActivations = maxActivations
	p.MaxConcurrentSessions = maxConcurrentSessions
	p.AllowOfflineDays = allowOfflineDays
	p.Entitlements = append([]string(nil), entitlements...)
	p.UpdatedAt = time.Now()
}

func (p *LicensePlan) Activate() {
	p.Active = true
	p.UpdatedAt = time.Now()
}

func (p *LicensePlan) Deactivate() {
	p.Active = false
	p.UpdatedAt = time.Now()
}

// MarkDeleted soft-deletes the plan; it stays referenced by issued licenses.
func (p *LicensePlan) MarkDeleted() {
	p.Deleted = true
	p.Active = false
	p.UpdatedAt = time.Now()
}

// ToPolicySnapshot captures the plan terms for a new license.
func (p *LicensePlan) ToPolicySnapshot() PolicySnapshot {
	return PolicySnapshot{
		MaxActivations:        p.MaxActivations,
		MaxConcurrentSessions: p.MaxConcurrentSessions,
		SessionTTLMinutes:     DefaultSessionTTLMinutes,
		GracePeriodDays:       p.GraceDays,
		AllowOfflineDays:      p.AllowOfflineDays,
		Entitlements:          append([]string(nil), p.Entitlements...),
	}.Normalize()
}
