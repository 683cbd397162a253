package repository

import (
	"context"

	"bulc-license-server/internal/domain/model"
)

// ProductRepository is the catalog collaborator: opaque code⇄id resolution.
type ProductRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Product, error)
	FindActiveByCode(ctx context.Context, tx Tx, code string) (*model.Product, error)
}
