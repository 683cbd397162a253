package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
)

// Ensure productRepo implements repository.ProductRepository
var _ repository.ProductRepository = (*productRepo)(nil)

type productRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *productRepo {
	return &productRepo{pool: pool}
}

// Save backs the seed command; the catalog is otherwise read-only here.
func (r *productRepo) Save(ctx context.Context, tx repository.Tx, p *model.Product) error {
	const q = `
INSERT INTO products (id, code, name, active, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET code=$2, name=$3, active=$4;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Code, p.Name, p.Active, p.CreatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *productRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	const q = `SELECT id, code, name, active, created_at FROM products WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *productRepo) FindActiveByCode(ctx context.Context, tx repository.Tx, code string) (*model.Product, error) {
	const q = `SELECT id, code, name, active, created_at FROM products WHERE code=$1 AND active;`
	return r.queryOne(ctx, tx, q, code)
}

func (r *productRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Product, error) {
	row, err := queryRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var p model.Product
	if err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Active, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return &p, nil
}
