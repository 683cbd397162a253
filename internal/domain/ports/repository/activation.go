package repository

import (
	"context"
	"time"

	"bulc-license-server/internal/domain/model"
)

// ActivationRepository persists activations. Aggregate-consistent writes go
// through LicenseRepository.Save; the methods here serve lookups and the
// set-based maintenance updates that need no per-license lock.
type ActivationRepository interface {
	Save(ctx context.Context, tx Tx, activation *model.Activation) error

	FindByLicenseAndFingerprint(ctx context.Context, tx Tx, licenseID, fingerprint string) (*model.Activation, error)
	FindByIDs(ctx context.Context, tx Tx, ids []string) ([]*model.Activation, error)

	// MarkStale flips ACTIVE activations unseen since threshold to STALE.
	// Conditional set-based update; idempotent. Returns rows affected.
	MarkStale(ctx context.Context, tx Tx, threshold time.Time) (int64, error)

	// ExpireByLicense flips a license's ACTIVE/STALE activations to EXPIRED
	// and clears their offline tokens. Returns rows affected.
	ExpireByLicense(ctx context.Context, tx Tx, licenseID string) (int64, error)
}
