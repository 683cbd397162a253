package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
)

type CreatePlanRequest struct {
	ProductID             string
	Code                  string
	Name                  string
	Description           string
	LicenseType           model.LicenseType
	DurationDays          int
	GraceDays             int
	MaxActivations        int
	MaxConcurrentSessions int
	AllowOfflineDays      int
	Entitlements          []string
}

type UpdatePlanRequest struct {
	Code                  string
	Name                  string
	Description           string
	LicenseType           model.LicenseType
	DurationDays          int
	GraceDays             int
	MaxActivations        int
	MaxConcurrentSessions int
	AllowOfflineDays      int
	Entitlements          []string
	Active                bool
}

// PlanUseCase manages the plan catalog consumed by issuance.
type PlanUseCase struct {
	plans repository.PlanRepository
}

func NewPlanUseCase(plans repository.PlanRepository) *PlanUseCase {
	return &PlanUseCase{plans: plans}
}

func (uc *PlanUseCase) Create(ctx context.Context, req CreatePlanRequest) (*model.LicensePlan, error) {
	exists, err := uc.plans.ExistsByCode(ctx, repository.NoTX, req.Code)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.NewLicenseError(domain.CodePlanCodeDuplicate)
	}
	plan, err := model.NewLicensePlan(uuid.NewString(), req.ProductID, req.Code, req.Name, req.Description,
		req.LicenseType, req.DurationDays, req.GraceDays, req.MaxActivations, req.MaxConcurrentSessions,
		req.AllowOfflineDays, req.Entitlements)
	if err != nil {
		return nil, err
	}
	if err := uc.plans.Save(ctx, repository.NoTX, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (uc *PlanUseCase) Update(ctx context.Context, planID string, req UpdatePlanRequest) (*model.LicensePlan, error) {
	plan, err := uc.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if req.Code != plan.Code {
		exists, err := uc.plans.ExistsByCode(ctx, repository.NoTX, req.Code)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, domain.NewLicenseError(domain.CodePlanCodeDuplicate)
		}
	}
	plan.Update(req.Code, req.Name, req.Description, req.LicenseType, req.DurationDays, req.GraceDays,
		req.MaxActivations, req.MaxConcurrentSessions, req.AllowOfflineDays, req.Entitlements)
	if req.Active {
		plan.Activate()
	} else {
		plan.Deactivate()
	}
	if err := uc.plans.Save(ctx, repository.NoTX, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (uc *PlanUseCase) Get(ctx context.Context, planID string) (*model.LicensePlan, error) {
	plan, err := uc.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewLicenseError(domain.CodePlanNotFound)
		}
		return nil, err
	}
	return plan, nil
}

func (uc *PlanUseCase) List(ctx context.Context, productID string, activeOnly bool) ([]*model.LicensePlan, error) {
	return uc.plans.List(ctx, repository.NoTX, productID, activeOnly)
}

// Delete soft-deletes a plan. Licenses already issued from it keep their
// captured policy snapshot.
func (uc *PlanUseCase) Delete(ctx context.Context, planID string) error {
	plan, err := uc.Get(ctx, planID)
	if err != nil {
		return err
	}
	plan.MarkDeleted()
	return uc.plans.Save(ctx, repository.NoTX, plan)
}
