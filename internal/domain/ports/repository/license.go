package repository

import (
	"context"

	"bulc-license-server/internal/domain/model"
)

// LicenseRepository is the persistence port for the License aggregate.
// Find* methods load the aggregate with its owned activations. When called
// with a tx obtained from LicenseLockManager the row is already serialized;
// repositories never take their own locks.
type LicenseRepository interface {
	Save(ctx context.Context, tx Tx, license *model.License) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.License, error)
	FindByKey(ctx context.Context, tx Tx, licenseKey string) (*model.License, error)
	FindBySourceOrderID(ctx context.Context, tx Tx, orderID string) (*model.License, error)

	// FindByOwnerAndProduct returns the single license an owner holds for a
	// product regardless of status, or domain.ErrNotFound.
	FindByOwnerAndProduct(ctx context.Context, tx Tx, ownerType model.OwnerType, ownerID, productID string) (*model.License, error)

	// FindCandidates returns an owner's licenses whose stored status is in
	// statuses, optionally scoped to productID (empty = all products),
	// ordered by status then newest first.
	FindCandidates(ctx context.Context, tx Tx, ownerType model.OwnerType, ownerID, productID string, statuses []model.LicenseStatus) ([]*model.License, error)

	ListByOwner(ctx context.Context, tx Tx, ownerType model.OwnerType, ownerID string) ([]*model.License, error)

	// FindHardExpired returns ids of ACTIVE licenses whose grace window ended
	// before now; used by the expiry worker.
	FindHardExpired(ctx context.Context, tx Tx, limit int) ([]string, error)

	CountByStatus(ctx context.Context, tx Tx) (map[model.LicenseStatus]int, error)
}
