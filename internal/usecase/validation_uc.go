package usecase

import (
	"context"
	"errors"
	"time"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/adapter"
	"bulc-license-server/internal/domain/ports/repository"
	"bulc-license-server/internal/infra/metrics"
)

// ValidateRequest is the input for Validate and Heartbeat. The owner id comes
// from the authenticated principal, never from the body. Exactly one of
// LicenseID / ProductID / ProductCode (or none, meaning all products) scopes
// the license resolution.
type ValidateRequest struct {
	OwnerID           string
	LicenseID         string
	ProductID         string
	ProductCode       string
	DeviceFingerprint string
	ClientVersion     string
	ClientOS          string
	LastIP            string
	DeviceDisplayName string
}

// ForceValidateRequest follows a session-limit conflict: the client picked
// sessions to evict and retries.
type ForceValidateRequest struct {
	OwnerID                 string
	LicenseID               string
	DeviceFingerprint       string
	DeactivateActivationIDs []string
	ClientVersion           string
	ClientOS                string
	LastIP                  string
	DeviceDisplayName       string
}

func (r ValidateRequest) clientMeta() model.ClientMeta {
	return model.ClientMeta{
		ClientVersion:     r.ClientVersion,
		ClientOS:          r.ClientOS,
		LastIP:            r.LastIP,
		DeviceDisplayName: r.DeviceDisplayName,
	}
}

func (r ForceValidateRequest) clientMeta() model.ClientMeta {
	return model.ClientMeta{
		ClientVersion:     r.ClientVersion,
		ClientOS:          r.ClientOS,
		LastIP:            r.LastIP,
		DeviceDisplayName: r.DeviceDisplayName,
	}
}

// ValidationUseCase implements the validate/heartbeat/force-validate/
// deactivate protocol. Stateless: every call re-reads the license under an
// exclusive per-license lock held for the whole read-decide-write span.
type ValidationUseCase struct {
	licenses repository.LicenseRepository
	plans    repository.PlanRepository
	products repository.ProductRepository
	locks    repository.LicenseLockManager
	offline  adapter.OfflineTokenSigner
	session  adapter.SessionTokenSigner
}

func NewValidationUseCase(
	licenses repository.LicenseRepository,
	plans repository.PlanRepository,
	products repository.ProductRepository,
	locks repository.LicenseLockManager,
	offline adapter.OfflineTokenSigner,
	session adapter.SessionTokenSigner,
) *ValidationUseCase {
	return &ValidationUseCase{
		licenses: licenses,
		plans:    plans,
		products: products,
		locks:    locks,
		offline:  offline,
		session:  session,
	}
}

// Validate checks the caller's license for this device and admits a new
// session, creating or reactivating the device's activation if the caps allow.
func (uc *ValidationUseCase) Validate(ctx context.Context, req ValidateRequest) (ValidationResult, error) {
	return uc.validate(ctx, req, true)
}

// Heartbeat refreshes an existing session. It never creates an activation: an
// unknown device fails with ACTIVATION_NOT_FOUND, an evicted one with
// SESSION_DEACTIVATED.
func (uc *ValidationUseCase) Heartbeat(ctx context.Context, req ValidateRequest) (ValidationResult, error) {
	return uc.validate(ctx, req, false)
}

func (uc *ValidationUseCase) validate(ctx context.Context, req ValidateRequest, allowNewActivation bool) (ValidationResult, error) {
	now := time.Now()
	if req.OwnerID == "" || req.DeviceFingerprint == "" {
		return ValidationResult{}, domain.ErrInvalidArgument
	}

	productID, res, err := uc.resolveProductID(ctx, now, req)
	if err != nil || res != nil {
		return deref(res), err
	}

	if req.LicenseID != "" {
		result, err := uc.withLicense(ctx, req.LicenseID, func(ctx context.Context, tx repository.Tx, lic *model.License) (ValidationResult, error) {
			if !lic.IsOwnedBy(req.OwnerID) {
				return failureResult(now, domain.CodeAccessDenied), nil
			}
			if productID != "" && lic.ProductID != productID {
				return failureResult(now, domain.CodeLicenseNotFoundForProduct), nil
			}
			return uc.performValidation(ctx, tx, lic, req.DeviceFingerprint, req.clientMeta(), allowNewActivation)
		})
		uc.observe(result)
		return result, err
	}

	// No explicit license: resolve candidates. Listing alone never mutates,
	// so the lock is taken only once a single target is known. Grace-period
	// licenses are stored as ACTIVE; the effective filter below decides.
	statuses := []model.LicenseStatus{model.LicenseStatusActive}
	candidates, err := uc.licenses.FindCandidates(ctx, repository.NoTX, model.OwnerTypeUser, req.OwnerID, productID, statuses)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return ValidationResult{}, err
	}
	candidates = usableCandidates(candidates, now)

	switch len(candidates) {
	case 0:
		result := failureResult(now, domain.CodeLicenseNotFoundForProduct)
		uc.observe(result)
		return result, nil
	case 1:
		result, err := uc.withLicense(ctx, candidates[0].ID, func(ctx context.Context, tx repository.Tx, lic *model.License) (ValidationResult, error) {
			return uc.performValidation(ctx, tx, lic, req.DeviceFingerprint, req.clientMeta(), allowNewActivation)
		})
		uc.observe(result)
		return result, err
	default:
		list, err := uc.buildCandidateList(ctx, now, candidates)
		if err != nil {
			return ValidationResult{}, err
		}
		result := selectionResult(now, list)
		uc.observe(result)
		return result, nil
	}
}

// ForceValidate deactivates the chosen sessions and admits the caller's
// device, unless a third device won the freed slot in the meantime — then the
// same session-limit conflict is returned and the caller must re-decide.
func (uc *ValidationUseCase) ForceValidate(ctx context.Context, req ForceValidateRequest) (ValidationResult, error) {
	now := time.Now()
	if req.OwnerID == "" || req.LicenseID == "" || req.DeviceFingerprint == "" {
		return ValidationResult{}, domain.ErrInvalidArgument
	}

	result, err := uc.withLicense(ctx, req.LicenseID, func(ctx context.Context, tx repository.Tx, lic *model.License) (ValidationResult, error) {
		if !lic.IsOwnedBy(req.OwnerID) {
			return failureResult(now, domain.CodeAccessDenied), nil
		}

		targets := make([]*model.Activation, 0, len(req.DeactivateActivationIDs))
		for _, id := range req.DeactivateActivationIDs {
			var found *model.Activation
			for _, a := range lic.Activations {
				if a.ID == id {
					found = a
					break
				}
			}
			if found == nil {
				return failureResult(now, domain.CodeInvalidActivationOwner), nil
			}
			targets = append(targets, found)
		}

		evicted := 0
		for _, a := range targets {
			if a.Status == model.ActivationStatusActive {
				a.Deactivate(model.DeactivateReasonForceValidate)
				evicted++
			}
		}
		metrics.AddForceEvictions(evicted)
		// The evictions must survive even when the recheck below returns a
		// conflict, so persist them before deciding.
		if err := uc.licenses.Save(ctx, tx, lic); err != nil {
			return ValidationResult{}, err
		}

		return uc.performValidation(ctx, tx, lic, req.DeviceFingerprint, req.clientMeta(), true)
	})
	uc.observe(result)
	return result, err
}

// Deactivate releases the caller's device. Unlike the validate family it
// reports business failures as errors since there is no result payload.
func (uc *ValidationUseCase) Deactivate(ctx context.Context, ownerID, licenseID, fingerprint string) error {
	if ownerID == "" || licenseID == "" || fingerprint == "" {
		return domain.ErrInvalidArgument
	}
	return uc.locks.WithLicenseLock(ctx, licenseID, func(ctx context.Context, tx repository.Tx) error {
		lic, err := uc.licenses.FindByID(ctx, tx, licenseID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewLicenseError(domain.CodeLicenseNotFound)
			}
			return err
		}
		if !lic.IsOwnedBy(ownerID) {
			return domain.NewLicenseError(domain.CodeAccessDenied)
		}
		a := lic.FindActivation(fingerprint)
		if a == nil {
			return domain.NewLicenseError(domain.CodeActivationNotFound)
		}
		a.Deactivate(model.DeactivateReasonUserRequest)
		return uc.licenses.Save(ctx, tx, lic)
	})
}

// performValidation runs steps 4–7 of the admission protocol against a locked
// license. It mutates the aggregate and persists it only on admission.
func (uc *ValidationUseCase) performValidation(ctx context.Context, tx repository.Tx, lic *model.License,
	fingerprint string, meta model.ClientMeta, allowNewActivation bool) (ValidationResult, error) {
	now := time.Now()

	eff := lic.EffectiveStatus(now)
	switch eff {
	case model.LicenseStatusExpiredHard:
		return failureResult(now, domain.CodeLicenseExpired), nil
	case model.LicenseStatusSuspended:
		return failureResult(now, domain.CodeLicenseSuspended), nil
	case model.LicenseStatusRevoked:
		return failureResult(now, domain.CodeLicenseRevoked), nil
	case model.LicenseStatusPending:
		return failureResult(now, domain.CodeInvalidLicenseState), nil
	}

	sessionThreshold := now.Add(-time.Duration(lic.Policy.SessionTTLMinutes) * time.Minute)

	own := lic.FindActivation(fingerprint)
	ownLive := own != nil && own.IsLiveSession(sessionThreshold)

	if !allowNewActivation {
		if own == nil {
			return failureResult(now, domain.CodeActivationNotFound), nil
		}
		// Evicted from another device between heartbeats.
		if own.Status == model.ActivationStatusDeactivated || own.Status == model.ActivationStatusExpired {
			return failureResult(now, domain.CodeSessionDeactivated), nil
		}
		// An ACTIVE record past the TTL is a client that paused and came
		// back; the heartbeat refreshes it.
	}

	sessions := lic.ActiveSessions(sessionThreshold)
	otherSessions := 0
	for _, a := range sessions {
		if a.DeviceFingerprint != fingerprint {
			otherSessions++
		}
	}

	// The caller's own record is excluded from the session count by device
	// identity: a stale-but-ACTIVE own session never blocks its own refresh.
	if !ownLive && otherSessions >= lic.Policy.MaxConcurrentSessions {
		infos := make([]ActiveSessionInfo, 0, len(sessions))
		for _, a := range sessions {
			infos = append(infos, ActiveSessionInfo{
				ActivationID:      a.ID,
				DeviceDisplayName: a.DeviceDisplayName,
				MaskedFingerprint: MaskFingerprint(a.DeviceFingerprint),
				LastSeenAt:        a.LastSeenAt,
				ClientOS:          a.ClientOS,
				ClientVersion:     a.ClientVersion,
			})
		}
		return sessionConflictResult(now, lic.ID, infos, lic.Policy.MaxConcurrentSessions), nil
	}

	if !lic.CanActivate(fingerprint, now) {
		return failureResult(now, domain.CodeActivationLimitExceeded), nil
	}

	activation, err := lic.AddActivation(fingerprint, meta)
	if err != nil {
		if code := domain.CodeOf(err); code != "" {
			return failureResult(now, code), nil
		}
		return ValidationResult{}, err
	}

	if !activation.HasValidOfflineToken(now) {
		token, expiresAt, err := uc.offline.Sign(lic, activation, now)
		if err != nil {
			return ValidationResult{}, err
		}
		activation.IssueOfflineToken(token, expiresAt)
	}

	if err := uc.licenses.Save(ctx, tx, lic); err != nil {
		return ValidationResult{}, err
	}

	sessionToken := ""
	if uc.session.Enabled() {
		code := uc.resolveProductCode(ctx, tx, lic.ProductID)
		sessionToken, err = uc.session.Sign(lic.ID, code, fingerprint, lic.Policy.Entitlements, now)
		if err != nil {
			return ValidationResult{}, err
		}
	}

	return successResult(now, &SuccessResult{
		LicenseID:             lic.ID,
		Status:                eff,
		ValidUntil:            lic.ValidUntil,
		Entitlements:          lic.Policy.Entitlements,
		SessionToken:          sessionToken,
		OfflineToken:          activation.OfflineToken,
		OfflineTokenExpiresAt: activation.OfflineTokenExpiresAt,
	}), nil
}

// withLicense loads one license under its exclusive lock and runs fn.
func (uc *ValidationUseCase) withLicense(ctx context.Context, licenseID string,
	fn func(ctx context.Context, tx repository.Tx, lic *model.License) (ValidationResult, error)) (ValidationResult, error) {
	var result ValidationResult
	err := uc.locks.WithLicenseLock(ctx, licenseID, func(ctx context.Context, tx repository.Tx) error {
		lic, err := uc.licenses.FindByID(ctx, tx, licenseID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				result = failureResult(time.Now(), domain.CodeLicenseNotFound)
				return nil
			}
			return err
		}
		result, err = fn(ctx, tx, lic)
		return err
	})
	if err != nil {
		return ValidationResult{}, err
	}
	return result, nil
}

// resolveProductID maps a product code to its id. A failure outcome (second
// return) short-circuits the operation.
func (uc *ValidationUseCase) resolveProductID(ctx context.Context, now time.Time, req ValidateRequest) (string, *ValidationResult, error) {
	if req.ProductID != "" {
		return req.ProductID, nil, nil
	}
	if req.ProductCode == "" {
		return "", nil, nil
	}
	p, err := uc.products.FindActiveByCode(ctx, repository.NoTX, req.ProductCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r := failureResult(now, domain.CodeLicenseNotFoundForProduct)
			return "", &r, nil
		}
		return "", nil, err
	}
	return p.ID, nil, nil
}

// resolveProductCode maps a product id back to its code for the session
// token's audience claim. Falls back to an opaque tag when the catalog has no
// entry.
func (uc *ValidationUseCase) resolveProductCode(ctx context.Context, tx repository.Tx, productID string) string {
	p, err := uc.products.FindByID(ctx, tx, productID)
	if err != nil || p == nil {
		if len(productID) >= 8 {
			return "PRODUCT_" + productID[:8]
		}
		return "UNKNOWN"
	}
	return p.Code
}

// usableCandidates filters stored-status candidates down to those whose
// effective status still permits use (ACTIVE or EXPIRED_GRACE).
func usableCandidates(candidates []*model.License, now time.Time) []*model.License {
	out := candidates[:0]
	for _, lic := range candidates {
		switch lic.EffectiveStatus(now) {
		case model.LicenseStatusActive, model.LicenseStatusExpiredGrace:
			out = append(out, lic)
		}
	}
	return out
}

func (uc *ValidationUseCase) buildCandidateList(ctx context.Context, now time.Time, candidates []*model.License) ([]LicenseCandidate, error) {
	out := make([]LicenseCandidate, 0, len(candidates))
	for _, lic := range candidates {
		planName := "Default plan"
		if lic.PlanID != "" {
			if plan, err := uc.plans.FindByID(ctx, repository.NoTX, lic.PlanID); err == nil && !plan.IsZero() {
				planName = plan.Name
			}
		}
		active := 0
		for _, a := range lic.Activations {
			if a.Status == model.ActivationStatusActive {
				active++
			}
		}
		out = append(out, LicenseCandidate{
			LicenseID:     lic.ID,
			PlanName:      planName,
			LicenseType:   lic.Type,
			Status:        lic.EffectiveStatus(now),
			ValidUntil:    lic.ValidUntil,
			OwnerScope:    string(lic.OwnerType),
			ActiveDevices: active,
			MaxDevices:    lic.Policy.MaxActivations,
		})
	}
	return out, nil
}

func (uc *ValidationUseCase) observe(result ValidationResult) {
	if result.Kind == "" {
		return
	}
	outcome := string(result.Kind)
	if result.Kind == ResultFailure && result.Failure != nil {
		outcome = string(result.Failure.ErrorCode)
	}
	metrics.IncValidation(outcome)
}

func deref(r *ValidationResult) ValidationResult {
	if r == nil {
		return ValidationResult{}
	}
	return *r
}
