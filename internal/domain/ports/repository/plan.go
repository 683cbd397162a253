package repository

import (
	"context"

	"bulc-license-server/internal/domain/model"
)

// PlanRepository is the port for license plans.
type PlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.LicensePlan) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.LicensePlan, error)

	// FindAvailableByID / FindAvailableByCode return only active, non-deleted
	// plans (the only ones issuance may use).
	FindAvailableByID(ctx context.Context, tx Tx, id string) (*model.LicensePlan, error)
	FindAvailableByCode(ctx context.Context, tx Tx, code string) (*model.LicensePlan, error)

	ExistsByCode(ctx context.Context, tx Tx, code string) (bool, error)
	List(ctx context.Context, tx Tx, productID string, activeOnly bool) ([]*model.LicensePlan, error)
}
