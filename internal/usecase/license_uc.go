package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
	"bulc-license-server/internal/infra/metrics"
)

// IssueLicenseRequest is used by the billing collaborator when it already
// carries explicit terms. Prefer IssueWithPlan for plan-backed issuance.
type IssueLicenseRequest struct {
	OwnerType     model.OwnerType
	OwnerID       string
	ProductID     string
	PlanID        string
	LicenseType   model.LicenseType
	Usage         model.UsageCategory
	ValidFrom     time.Time
	ValidUntil    *time.Time
	Policy        *model.PolicySnapshot
	SourceOrderID string
}

// LicenseUseCase implements the collaborator-triggered lifecycle operations
// (issue/suspend/revoke/renew) and owner-scoped queries. These are invoked
// in-process by billing/admin, never exposed on the client protocol surface.
type LicenseUseCase struct {
	licenses    repository.LicenseRepository
	activations repository.ActivationRepository
	plans       repository.PlanRepository
	locks       repository.LicenseLockManager
	tm          repository.TransactionManager
}

func NewLicenseUseCase(
	licenses repository.LicenseRepository,
	activations repository.ActivationRepository,
	plans repository.PlanRepository,
	locks repository.LicenseLockManager,
	tm repository.TransactionManager,
) *LicenseUseCase {
	return &LicenseUseCase{
		licenses:    licenses,
		activations: activations,
		plans:       plans,
		locks:       locks,
		tm:          tm,
	}
}

// Issue creates and immediately activates a license from explicit terms.
// An owner holds at most one non-revoked license per product.
func (uc *LicenseUseCase) Issue(ctx context.Context, req IssueLicenseRequest) (*model.License, error) {
	policy := model.DefaultPolicySnapshot()
	if req.Policy != nil {
		policy = req.Policy.Normalize()
	}
	var lic *model.License
	err := uc.inTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := uc.licenses.FindByOwnerAndProduct(ctx, tx, req.OwnerType, req.OwnerID, req.ProductID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Status != model.LicenseStatusRevoked {
			return domain.NewLicenseError(domain.CodeLicenseAlreadyExists)
		}

		lic, err = model.NewLicense(uuid.NewString(), req.OwnerType, req.OwnerID, req.ProductID, req.PlanID,
			req.LicenseType, req.Usage, req.ValidFrom, req.ValidUntil, policy,
			model.GenerateLicenseKey(), req.SourceOrderID)
		if err != nil {
			return err
		}
		if err := lic.Activate(); err != nil {
			return err
		}
		return uc.licenses.Save(ctx, tx, lic)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncLicensesIssued(string(lic.Type))
	return lic, nil
}

// IssueWithPlan issues from an available plan, capturing its policy snapshot
// and deriving the validity window from the plan's duration.
func (uc *LicenseUseCase) IssueWithPlan(ctx context.Context, ownerType model.OwnerType, ownerID, planID, sourceOrderID string, usage model.UsageCategory) (*model.License, error) {
	plan, err := uc.plans.FindAvailableByID(ctx, repository.NoTX, planID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewLicenseError(domain.CodePlanNotAvailable)
		}
		return nil, err
	}
	return uc.issueFromPlan(ctx, ownerType, ownerID, plan, sourceOrderID, usage)
}

// IssueWithPlanCode is IssueWithPlan keyed by plan code.
func (uc *LicenseUseCase) IssueWithPlanCode(ctx context.Context, ownerType model.OwnerType, ownerID, planCode, sourceOrderID string, usage model.UsageCategory) (*model.License, error) {
	plan, err := uc.plans.FindAvailableByCode(ctx, repository.NoTX, planCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewLicenseError(domain.CodePlanNotAvailable)
		}
		return nil, err
	}
	return uc.issueFromPlan(ctx, ownerType, ownerID, plan, sourceOrderID, usage)
}

func (uc *LicenseUseCase) issueFromPlan(ctx context.Context, ownerType model.OwnerType, ownerID string, plan *model.LicensePlan, sourceOrderID string, usage model.UsageCategory) (*model.License, error) {
	now := time.Now()
	var validUntil *time.Time
	if plan.LicenseType != model.LicenseTypePerpetual {
		vu := now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
		validUntil = &vu
	}
	policy := plan.ToPolicySnapshot()
	return uc.Issue(ctx, IssueLicenseRequest{
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		ProductID:     plan.ProductID,
		PlanID:        plan.ID,
		LicenseType:   plan.LicenseType,
		Usage:         usage,
		ValidFrom:     now,
		ValidUntil:    validUntil,
		Policy:        &policy,
		SourceOrderID: sourceOrderID,
	})
}

// Suspend pauses a license (admin action).
func (uc *LicenseUseCase) Suspend(ctx context.Context, licenseID, reason string) (*model.License, error) {
	return uc.mutate(ctx, licenseID, func(lic *model.License) error {
		return lic.Suspend(reason)
	})
}

// Revoke permanently terminates a license and force-deactivates every device.
func (uc *LicenseUseCase) Revoke(ctx context.Context, licenseID, reason string) (*model.License, error) {
	lic, err := uc.mutate(ctx, licenseID, func(lic *model.License) error {
		lic.Revoke(reason)
		return nil
	})
	if err == nil {
		metrics.IncLicensesRevoked()
	}
	return lic, err
}

// RevokeByOrderID revokes the license issued for a billing order (refunds).
func (uc *LicenseUseCase) RevokeByOrderID(ctx context.Context, orderID, reason string) (*model.License, error) {
	lic, err := uc.licenses.FindBySourceOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewLicenseError(domain.CodeLicenseNotFound)
		}
		return nil, err
	}
	return uc.Revoke(ctx, lic.ID, reason)
}

// Renew extends a subscription license and reactivates it.
func (uc *LicenseUseCase) Renew(ctx context.Context, licenseID string, newValidUntil time.Time) (*model.License, error) {
	return uc.mutate(ctx, licenseID, func(lic *model.License) error {
		return lic.Renew(newValidUntil)
	})
}

// GetLicense loads a license by id.
func (uc *LicenseUseCase) GetLicense(ctx context.Context, licenseID string) (*model.License, error) {
	lic, err := uc.licenses.FindByID(ctx, repository.NoTX, licenseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewLicenseError(domain.CodeLicenseNotFound)
		}
		return nil, err
	}
	return lic, nil
}

// GetLicenseByKey loads a license by its opaque key.
func (uc *LicenseUseCase) GetLicenseByKey(ctx context.Context, licenseKey string) (*model.License, error) {
	lic, err := uc.licenses.FindByKey(ctx, repository.NoTX, licenseKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewLicenseError(domain.CodeLicenseNotFound)
		}
		return nil, err
	}
	return lic, nil
}

// GetLicenseForOwner loads a license only if the caller owns it.
func (uc *LicenseUseCase) GetLicenseForOwner(ctx context.Context, ownerID, licenseID string) (*model.License, error) {
	lic, err := uc.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	if !lic.IsOwnedBy(ownerID) {
		return nil, domain.NewLicenseError(domain.CodeAccessDenied)
	}
	return lic, nil
}

// ListByOwner returns all licenses a user owns.
func (uc *LicenseUseCase) ListByOwner(ctx context.Context, ownerID string) ([]*model.License, error) {
	return uc.licenses.ListByOwner(ctx, repository.NoTX, model.OwnerTypeUser, ownerID)
}

// MarkStaleActivations flips long-silent activations to STALE. Set-based and
// idempotent; used by the stale worker.
func (uc *LicenseUseCase) MarkStaleActivations(ctx context.Context, thresholdDays int) (int64, error) {
	threshold := time.Now().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	return uc.activations.MarkStale(ctx, repository.NoTX, threshold)
}

// ExpireHardExpired expires the activations of every license whose grace
// window has ended. Returns the number of licenses processed.
func (uc *LicenseUseCase) ExpireHardExpired(ctx context.Context, batchSize int) (int, error) {
	ids, err := uc.licenses.FindHardExpired(ctx, repository.NoTX, batchSize)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	processed := 0
	for _, id := range ids {
		if _, err := uc.activations.ExpireByLicense(ctx, repository.NoTX, id); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// CountByStatus reports stored-status license counts for metrics.
func (uc *LicenseUseCase) CountByStatus(ctx context.Context) (map[model.LicenseStatus]int, error) {
	return uc.licenses.CountByStatus(ctx, repository.NoTX)
}

// mutate applies fn to a license under its exclusive lock and saves it.
func (uc *LicenseUseCase) mutate(ctx context.Context, licenseID string, fn func(*model.License) error) (*model.License, error) {
	var lic *model.License
	err := uc.locks.WithLicenseLock(ctx, licenseID, func(ctx context.Context, tx repository.Tx) error {
		var err error
		lic, err = uc.licenses.FindByID(ctx, tx, licenseID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewLicenseError(domain.CodeLicenseNotFound)
			}
			return err
		}
		if err := fn(lic); err != nil {
			return err
		}
		return uc.licenses.Save(ctx, tx, lic)
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

// inTx runs fn in a plain transaction when a manager is wired; tests and the
// in-memory path run fn directly.
func (uc *LicenseUseCase) inTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if uc.tm == nil {
		return fn(ctx, repository.NoTX)
	}
	return uc.tm.WithTx(ctx, pgx.TxOptions{}, fn)
}
