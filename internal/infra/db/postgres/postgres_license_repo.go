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

// Ensure licenseRepo implements repository.LicenseRepository
var _ repository.LicenseRepository = (*licenseRepo)(nil)

type licenseRepo struct {
	pool *pgxpool.Pool
}

func NewLicenseRepo(pool *pgxpool.Pool) *licenseRepo {
	return &licenseRepo{pool: pool}
}

const licenseColumns = `
id, owner_type, owner_id, product_id, plan_id, license_type, usage_category,
status, issued_at, valid_from, valid_until, policy, license_key,
source_order_id, created_at, updated_at`

// Save upserts the license row and every owned activation in one executor
// context. Callers mutating under the license lock pass its tx so the write
// commits atomically with the lock release.
func (r *licenseRepo) Save(ctx context.Context, tx repository.Tx, lic *model.License) error {
	policy, err := json.Marshal(lic.Policy)
	if err != nil {
		return domain.ErrInvalidArgument
	}

	const q = `
INSERT INTO licenses (
  id, owner_type, owner_id, product_id, plan_id, license_type, usage_category,
  status, issued_at, valid_from, valid_until, policy, license_key,
  source_order_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),$15,$16)
ON CONFLICT (id) DO UPDATE SET
  status=$8, valid_until=$11, policy=$12, updated_at=$16;`

	_, err = execSQL(ctx, r.pool, tx, q,
		lic.ID, lic.OwnerType, lic.OwnerID, lic.ProductID, lic.PlanID, lic.Type, lic.Usage,
		lic.Status, lic.IssuedAt, lic.ValidFrom, lic.ValidUntil, policy, lic.LicenseKey,
		lic.SourceOrderID, lic.CreatedAt, lic.UpdatedAt)
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

	for _, a := range lic.Activations {
		if err := saveActivation(ctx, r.pool, tx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *licenseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.License, error) {
	const q = `SELECT ` + licenseColumns + ` FROM licenses WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *licenseRepo) FindByKey(ctx context.Context, tx repository.Tx, licenseKey string) (*model.License, error) {
	const q = `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key=$1;`
	return r.queryOne(ctx, tx, q, licenseKey)
}

func (r *licenseRepo) FindBySourceOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.License, error) {
	const q = `SELECT ` + licenseColumns + ` FROM licenses WHERE source_order_id=$1;`
	return r.queryOne(ctx, tx, q, orderID)
}

func (r *licenseRepo) FindByOwnerAndProduct(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID, productID string) (*model.License, error) {
	const q = `
SELECT ` + licenseColumns + `
  FROM licenses
 WHERE owner_type=$1 AND owner_id=$2 AND product_id=$3
 ORDER BY created_at DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, ownerType, ownerID, productID)
}

func (r *licenseRepo) FindCandidates(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID, productID string, statuses []model.LicenseStatus) ([]*model.License, error) {
	const q = `
SELECT ` + licenseColumns + `
  FROM licenses
 WHERE owner_type=$1 AND owner_id=$2
   AND ($3 = '' OR product_id=$3)
   AND status = ANY($4)
 ORDER BY status ASC, created_at DESC;`
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	out, err := r.queryMany(ctx, tx, q, ownerType, ownerID, productID, ss)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func (r *licenseRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerType model.OwnerType, ownerID string) ([]*model.License, error) {
	const q = `
SELECT ` + licenseColumns + `
  FROM licenses
 WHERE owner_type=$1 AND owner_id=$2
 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, ownerType, ownerID)
}

func (r *licenseRepo) FindHardExpired(ctx context.Context, tx repository.Tx, limit int) ([]string, error) {
	// The grace window lives in the policy snapshot, so the cutoff is computed
	// per row from the stored JSON.
	const q = `
SELECT id
  FROM licenses
 WHERE status='ACTIVE'
   AND valid_until IS NOT NULL
   AND valid_until + (COALESCE((policy->>'gracePeriodDays')::int, 0) * INTERVAL '1 day') < NOW()
 ORDER BY valid_until ASC
 LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *licenseRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.LicenseStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM licenses GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	out := make(map[model.LicenseStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.LicenseStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *licenseRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.License, error) {
	row, err := queryRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if err := r.loadActivations(ctx, tx, lic); err != nil {
		return nil, err
	}
	return lic, nil
}

func (r *licenseRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.License, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []*model.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	for _, lic := range out {
		if err := r.loadActivations(ctx, tx, lic); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *licenseRepo) loadActivations(ctx context.Context, tx repository.Tx, lic *model.License) error {
	const q = `
SELECT ` + activationColumns + `
  FROM activations
 WHERE license_id=$1
 ORDER BY activated_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, lic.ID)
	if err != nil {
		return wrapQueryErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return domain.ErrReadDatabaseRow
		}
		lic.Activations = append(lic.Activations, a)
	}
	if err := rows.Err(); err != nil {
		return domain.ErrReadDatabaseRow
	}
	return nil
}

func scanLicense(row pgx.Row) (*model.License, error) {
	var (
		lic       model.License
		planID    *string
		orderID   *string
		rawPolicy []byte
	)
	err := row.Scan(
		&lic.ID, &lic.OwnerType, &lic.OwnerID, &lic.ProductID, &planID, &lic.Type, &lic.Usage,
		&lic.Status, &lic.IssuedAt, &lic.ValidFrom, &lic.ValidUntil, &rawPolicy, &lic.LicenseKey,
		&orderID, &lic.CreatedAt, &lic.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if planID != nil {
		lic.PlanID = *planID
	}
	if orderID != nil {
		lic.SourceOrderID = *orderID
	}
	policy, err := model.ParsePolicySnapshot(rawPolicy)
	if err != nil {
		return nil, err
	}
	lic.Policy = policy
	return &lic, nil
}

func wrapQueryErr(err error) error {
	switch err {
	case pgx.ErrNoRows:
		return domain.ErrNotFound
	case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
		return err
	default:
		return domain.ErrOperationFailed
	}
}
