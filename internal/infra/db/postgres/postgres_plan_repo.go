package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
)

// Ensure planRepo implements repository.PlanRepository
var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

const planColumns = `
id, product_id, code, name, description, license_type, duration_days,
grace_days, max_activations, max_concurrent_sessions, allow_offline_days,
entitlements, active, deleted, created_at, updated_at`

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.LicensePlan) error {
	entitlements, err := json.Marshal(p.Entitlements)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO license_plans (
  id, product_id, code, name, description, license_type, duration_days,
  grace_days, max_activations, max_concurrent_sessions, allow_offline_days,
  entitlements, active, deleted, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  code=$3, name=$4, description=$5, license_type=$6, duration_days=$7,
  grace_days=$8, max_activations=$9, max_concurrent_sessions=$10,
  allow_offline_days=$11, entitlements=$12, active=$13, deleted=$14, updated_at=$16;`

	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.ProductID, p.Code, p.Name, p.Description, p.LicenseType, p.DurationDays,
		p.GraceDays, p.MaxActivations, p.MaxConcurrentSessions, p.AllowOfflineDays,
		entitlements, p.Active, p.Deleted, p.CreatedAt, p.UpdatedAt)
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

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	const q = `SELECT ` + planColumns + ` FROM license_plans WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *planRepo) FindAvailableByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	const q = `SELECT ` + planColumns + ` FROM license_plans WHERE id=$1 AND active AND NOT deleted;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *planRepo) FindAvailableByCode(ctx context.Context, tx repository.Tx, code string) (*model.LicensePlan, error) {
	const q = `SELECT ` + planColumns + ` FROM license_plans WHERE code=$1 AND active AND NOT deleted;`
	return r.queryOne(ctx, tx, q, code)
}

func (r *planRepo) ExistsByCode(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM license_plans WHERE code=$1 AND NOT deleted);`
	row, err := queryRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *planRepo) List(ctx context.Context, tx repository.Tx, productID string, activeOnly bool) ([]*model.LicensePlan, error) {
	const q = `
SELECT ` + planColumns + `
  FROM license_plans
 WHERE NOT deleted
   AND ($1 = '' OR product_id=$1)
   AND (NOT $2 OR active)
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, productID, activeOnly)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []*model.LicensePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *planRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.LicensePlan, error) {
	row, err := queryRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func scanPlan(row pgx.Row) (*model.LicensePlan, error) {
	var (
		p    model.LicensePlan
		ents []byte
	)
	err := row.Scan(
		&p.ID, &p.ProductID, &p.Code, &p.Name, &p.Description, &p.LicenseType, &p.DurationDays,
		&p.GraceDays, &p.MaxActivations, &p.MaxConcurrentSessions, &p.AllowOfflineDays,
		&ents, &p.Active, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(ents) > 0 {
		if err := json.Unmarshal(ents, &p.Entitlements); err != nil {
			return nil, err
		}
	}
	return &p, nil
}
