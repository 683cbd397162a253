package postgres

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bulc-license-server/internal/domain/ports/repository"
)

// Compile-time conformance
var (
	_ repository.TransactionManager = (*TxManager)(nil)
	_ repository.LicenseLockManager = (*TxManager)(nil)
)

// TxManager implements the transaction and license-lock ports for Postgres.
// It begins a transaction, invokes the callback, and commits/rolls back; the
// tx handle reaches the repositories through the repository.Tx argument.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx opens a DB transaction and passes the tx handle to fn.
// If fn returns an error the transaction is rolled back.
func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, txOpt)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err // rollback in defer
	}
	return tx.Commit(ctx)
}

// WithLicenseLock runs fn in a transaction holding the license's advisory
// lock. pg_advisory_xact_lock blocks until the lock is granted and releases
// it with the transaction, so the whole read-decide-write span is serialized
// per license while unrelated licenses proceed in parallel.
func (m *TxManager) WithLicenseLock(ctx context.Context, licenseID string, fn func(ctx context.Context, tx repository.Tx) error) error {
	return m.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		pgtx := tx.(pgx.Tx)
		if _, err := pgtx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, licenseLockKey(licenseID)); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// licenseLockKey maps a license id onto the bigint advisory lock space.
// FNV-1a collisions are possible and harmless: they only over-serialize.
func licenseLockKey(licenseID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(licenseID))
	return int64(h.Sum64())
}
