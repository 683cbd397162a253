package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
)

// Ensure activationRepo implements repository.ActivationRepository
var _ repository.ActivationRepository = (*activationRepo)(nil)

type activationRepo struct {
	pool *pgxpool.Pool
}

func NewActivationRepo(pool *pgxpool.Pool) *activationRepo {
	return &activationRepo{pool: pool}
}

const activationColumns = `
id, license_id, device_fingerprint, status, activated_at, last_seen_at,
client_version, client_os, last_ip, device_display_name,
deactivated_at, deactivated_reason, offline_token, offline_token_expires_at,
created_at, updated_at`

func saveActivation(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, a *model.Activation) error {
	const q = `
INSERT INTO activations (
  id, license_id, device_fingerprint, status, activated_at, last_seen_at,
  client_version, client_os, last_ip, device_display_name,
  deactivated_at, deactivated_reason, offline_token, offline_token_expires_at,
  created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (license_id, device_fingerprint) DO UPDATE SET
  status=$4, last_seen_at=$6, client_version=$7, client_os=$8, last_ip=$9,
  device_display_name=$10, deactivated_at=$11, deactivated_reason=$12,
  offline_token=$13, offline_token_expires_at=$14, updated_at=$16;`

	_, err := execSQL(ctx, pool, tx, q,
		a.ID, a.LicenseID, a.DeviceFingerprint, a.Status, a.ActivatedAt, a.LastSeenAt,
		a.ClientVersion, a.ClientOS, a.LastIP, a.DeviceDisplayName,
		a.DeactivatedAt, a.DeactivatedReason, a.OfflineToken, a.OfflineTokenExpiresAt,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			return domain.ErrOperationFailed
		}
	}
	return nil
}

func (r *activationRepo) Save(ctx context.Context, tx repository.Tx, a *model.Activation) error {
	return saveActivation(ctx, r.pool, tx, a)
}

func (r *activationRepo) FindByLicenseAndFingerprint(ctx context.Context, tx repository.Tx, licenseID, fingerprint string) (*model.Activation, error) {
	const q = `
SELECT ` + activationColumns + `
  FROM activations
 WHERE license_id=$1 AND device_fingerprint=$2;`
	row, err := queryRow(ctx, r.pool, tx, q, licenseID, fingerprint)
	if err != nil {
		return nil, err
	}
	a, err := scanActivation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return a, nil
}

func (r *activationRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.Activation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
SELECT ` + activationColumns + `
  FROM activations
 WHERE id = ANY($1);`
	rows, err := queryRows(ctx, r.pool, tx, q, ids)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()
	var out []*model.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// MarkStale is a conditional set-based update: the WHERE clause makes retries
// and concurrent runs idempotent.
func (r *activationRepo) MarkStale(ctx context.Context, tx repository.Tx, threshold time.Time) (int64, error) {
	const q = `
UPDATE activations
   SET status='STALE', updated_at=NOW()
 WHERE status='ACTIVE' AND last_seen_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, threshold)
	if err != nil {
		return 0, wrapQueryErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *activationRepo) ExpireByLicense(ctx context.Context, tx repository.Tx, licenseID string) (int64, error) {
	const q = `
UPDATE activations
   SET status='EXPIRED', offline_token='', offline_token_expires_at=NULL, updated_at=NOW()
 WHERE license_id=$1 AND status IN ('ACTIVE','STALE');`
	tag, err := execSQL(ctx, r.pool, tx, q, licenseID)
	if err != nil {
		return 0, wrapQueryErr(err)
	}
	return tag.RowsAffected(), nil
}

func scanActivation(row pgx.Row) (*model.Activation, error) {
	var (
		a      model.Activation
		reason *string
		token  *string
	)
	err := row.Scan(
		&a.ID, &a.LicenseID, &a.DeviceFingerprint, &a.Status, &a.ActivatedAt, &a.LastSeenAt,
		&a.ClientVersion, &a.ClientOS, &a.LastIP, &a.DeviceDisplayName,
		&a.DeactivatedAt, &reason, &token, &a.OfflineTokenExpiresAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		a.DeactivatedReason = *reason
	}
	if token != nil {
		a.OfflineToken = *token
	}
	return &a, nil
}
