package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the opaque transaction handle passed through repository methods. The
// concrete type is infra-defined (pgx.Tx for Postgres). Repositories MUST
// accept a nil handle and fall back to their non-transactional path.
type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a storage transaction,
// passing the tx handle through so repositories can share it. Keeps use-case
// signatures free of storage types.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

// LicenseLockManager serializes all work on a single license. The lock is
// exclusive, scoped to one license id, and held for the whole callback —
// the full read-decide-write span. Unrelated licenses proceed in parallel.
//
// The Postgres implementation takes an advisory xact lock inside a
// transaction; tests substitute a keyed mutex.
type LicenseLockManager interface {
	WithLicenseLock(ctx context.Context, licenseID string, fn func(ctx context.Context, tx Tx) error) error
}
