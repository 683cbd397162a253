package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
	red "bulc-license-server/internal/infra/redis"
	"bulc-license-server/internal/usecase"
)

// ===== wire DTOs =====

type validateRequest struct {
	LicenseID         string `json:"licenseId,omitempty"`
	ProductID         string `json:"productId,omitempty"`
	ProductCode       string `json:"productCode,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	ClientVersion     string `json:"clientVersion,omitempty"`
	ClientOS          string `json:"clientOs,omitempty"`
	DeviceDisplayName string `json:"deviceName,omitempty"`
}

type forceValidateRequest struct {
	LicenseID               string   `json:"licenseId"`
	DeviceFingerprint       string   `json:"deviceFingerprint"`
	DeactivateActivationIDs []string `json:"deactivateActivationIds"`
	ClientVersion           string   `json:"clientVersion,omitempty"`
	ClientOS                string   `json:"clientOs,omitempty"`
	DeviceDisplayName       string   `json:"deviceName,omitempty"`
}

type deactivateRequest struct {
	LicenseID         string `json:"licenseId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

type validationResponse struct {
	Result          string             `json:"result"`
	ServerTime      time.Time          `json:"serverTime"`
	License         *successPayload    `json:"license,omitempty"`
	Error           *errorPayload      `json:"error,omitempty"`
	Candidates      []candidatePayload `json:"candidates,omitempty"`
	SessionConflict *conflictPayload   `json:"sessionConflict,omitempty"`
}

type successPayload struct {
	LicenseID             string     `json:"licenseId"`
	Status                string     `json:"status"`
	ValidUntil            *time.Time `json:"validUntil,omitempty"`
	Entitlements          []string   `json:"entitlements,omitempty"`
	SessionToken          string     `json:"sessionToken,omitempty"`
	OfflineToken          string     `json:"offlineToken,omitempty"`
	OfflineTokenExpiresAt *time.Time `json:"offlineTokenExpiresAt,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type candidatePayload struct {
	LicenseID     string     `json:"licenseId"`
	PlanName      string     `json:"planName,omitempty"`
	LicenseType   string     `json:"licenseType"`
	Status        string     `json:"status"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
	OwnerScope    string     `json:"ownerScope"`
	ActiveDevices int        `json:"activeDevices"`
	MaxDevices    int        `json:"maxDevices"`
}

type conflictPayload struct {
	LicenseID             string           `json:"licenseId"`
	MaxConcurrentSessions int              `json:"maxConcurrentSessions"`
	ActiveSessions        []sessionPayload `json:"activeSessions"`
}

type sessionPayload struct {
	ActivationID      string    `json:"activationId"`
	DeviceDisplayName string    `json:"deviceName,omitempty"`
	MaskedFingerprint string    `json:"maskedFingerprint"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
	ClientOS          string    `json:"clientOs,omitempty"`
	ClientVersion     string    `json:"clientVersion,omitempty"`
}

// ===== response helpers =====

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": errorPayload{Code: code, Message: message}})
}

// statusOfCategory is the deterministic category-to-HTTP mapping.
func statusOfCategory(cat domain.Category) int {
	switch cat {
	case domain.CategoryNotFound:
		return http.StatusNotFound
	case domain.CategoryAccessDenied:
		return http.StatusForbidden
	case domain.CategoryStateConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// writeUseCaseError maps business-rule errors through their category and
// everything else to 500.
func writeUseCaseError(w http.ResponseWriter, err error) {
	var le *domain.LicenseError
	if errors.As(err, &le) {
		writeError(w, statusOfCategory(domain.CategoryOf(le.Code)), string(le.Code), le.Message())
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "entity not found")
		return
	}
	if errors.Is(err, domain.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid argument")
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

func writeValidationResult(w http.ResponseWriter, res usecase.ValidationResult) {
	out := validationResponse{ServerTime: res.ServerTime}
	status := http.StatusOK

	switch res.Kind {
	case usecase.ResultSuccess:
		out.Result = "SUCCESS"
		out.License = &successPayload{
			LicenseID:             res.Success.LicenseID,
			Status:                string(res.Success.Status),
			ValidUntil:            res.Success.ValidUntil,
			Entitlements:          res.Success.Entitlements,
			SessionToken:          res.Success.SessionToken,
			OfflineToken:          res.Success.OfflineToken,
			OfflineTokenExpiresAt: res.Success.OfflineTokenExpiresAt,
		}
	case usecase.ResultFailure:
		out.Result = "FAILURE"
		out.Error = &errorPayload{Code: string(res.Failure.ErrorCode), Message: res.Failure.ErrorMessage}
		status = statusOfCategory(domain.CategoryOf(res.Failure.ErrorCode))
	case usecase.ResultSelectionRequired:
		out.Result = "SELECTION_REQUIRED"
		for _, c := range res.Selection.Candidates {
			out.Candidates = append(out.Candidates, candidatePayload{
				LicenseID:     c.LicenseID,
				PlanName:      c.PlanName,
				LicenseType:   string(c.LicenseType),
				Status:        string(c.Status),
				ValidUntil:    c.ValidUntil,
				OwnerScope:    c.OwnerScope,
				ActiveDevices: c.ActiveDevices,
				MaxDevices:    c.MaxDevices,
			})
		}
		status = http.StatusConflict
	case usecase.ResultSessionLimitExceeded:
		out.Result = "SESSION_LIMIT_EXCEEDED"
		conflict := &conflictPayload{
			LicenseID:             res.SessionConflict.LicenseID,
			MaxConcurrentSessions: res.SessionConflict.MaxConcurrentSessions,
		}
		for _, s := range res.SessionConflict.ActiveSessions {
			conflict.ActiveSessions = append(conflict.ActiveSessions, sessionPayload{
				ActivationID:      s.ActivationID,
				DeviceDisplayName: s.DeviceDisplayName,
				MaskedFingerprint: s.MaskedFingerprint,
				LastSeenAt:        s.LastSeenAt,
				ClientOS:          s.ClientOS,
				ClientVersion:     s.ClientVersion,
			})
		}
		out.SessionConflict = conflict
		status = http.StatusConflict
	}

	writeJSON(w, status, out)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return false
	}
	return true
}

// allowValidate enforces the per-device fixed-window limit on the validate
// family. Fail-open on limiter errors: a degraded Redis must not take the
// validation path down.
func (s *Server) allowValidate(w http.ResponseWriter, r *http.Request, fingerprint string) bool {
	if s.limiter == nil {
		return true
	}
	key := red.DeviceKey(OwnerID(r.Context()), fingerprint)
	ok, err := s.limiter.Allow(r.Context(), key, s.validateLimit, time.Minute)
	if err != nil {
		s.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many validation requests")
		return false
	}
	return true
}

// ===== validation protocol =====

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceFingerprint == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "deviceFingerprint is required")
		return
	}
	if !s.allowValidate(w, r, req.DeviceFingerprint) {
		return
	}
	res, err := s.validationUC.Validate(r.Context(), usecase.ValidateRequest{
		OwnerID:           OwnerID(r.Context()),
		LicenseID:         req.LicenseID,
		ProductID:         req.ProductID,
		ProductCode:       req.ProductCode,
		DeviceFingerprint: req.DeviceFingerprint,
		ClientVersion:     req.ClientVersion,
		ClientOS:          req.ClientOS,
		LastIP:            clientIP(r),
		DeviceDisplayName: req.DeviceDisplayName,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeValidationResult(w, res)
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceFingerprint == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "deviceFingerprint is required")
		return
	}
	if !s.allowValidate(w, r, req.DeviceFingerprint) {
		return
	}
	res, err := s.validationUC.Heartbeat(r.Context(), usecase.ValidateRequest{
		OwnerID:           OwnerID(r.Context()),
		LicenseID:         req.LicenseID,
		ProductID:         req.ProductID,
		ProductCode:       req.ProductCode,
		DeviceFingerprint: req.DeviceFingerprint,
		ClientVersion:     req.ClientVersion,
		ClientOS:          req.ClientOS,
		LastIP:            clientIP(r),
		DeviceDisplayName: req.DeviceDisplayName,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeValidationResult(w, res)
}

func (s *Server) forceValidateHandler(w http.ResponseWriter, r *http.Request) {
	var req forceValidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LicenseID == "" || req.DeviceFingerprint == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "licenseId and deviceFingerprint are required")
		return
	}
	if !s.allowValidate(w, r, req.DeviceFingerprint) {
		return
	}
	res, err := s.validationUC.ForceValidate(r.Context(), usecase.ForceValidateRequest{
		OwnerID:                 OwnerID(r.Context()),
		LicenseID:               req.LicenseID,
		DeviceFingerprint:       req.DeviceFingerprint,
		DeactivateActivationIDs: req.DeactivateActivationIDs,
		ClientVersion:           req.ClientVersion,
		ClientOS:                req.ClientOS,
		LastIP:                  clientIP(r),
		DeviceDisplayName:       req.DeviceDisplayName,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeValidationResult(w, res)
}

func (s *Server) deactivateHandler(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.LicenseID == "" || req.DeviceFingerprint == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "licenseId and deviceFingerprint are required")
		return
	}
	err := s.validationUC.Deactivate(r.Context(), OwnerID(r.Context()), req.LicenseID, req.DeviceFingerprint)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== owner queries =====

type licenseResponse struct {
	ID            string     `json:"id"`
	LicenseKey    string     `json:"licenseKey,omitempty"`
	ProductID     string     `json:"productId"`
	PlanID        string     `json:"planId,omitempty"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	ValidFrom     time.Time  `json:"validFrom"`
	ValidUntil    *time.Time `json:"validUntil,omitempty"`
	Entitlements  []string   `json:"entitlements,omitempty"`
	ActiveDevices int        `json:"activeDevices"`
	MaxDevices    int        `json:"maxDevices"`
}

func licenseToResponse(lic *model.License, now time.Time) licenseResponse {
	return licenseResponse{
		ID:            lic.ID,
		LicenseKey:    lic.LicenseKey,
		ProductID:     lic.ProductID,
		PlanID:        lic.PlanID,
		Type:          string(lic.Type),
		Status:        string(lic.EffectiveStatus(now)),
		ValidFrom:     lic.ValidFrom,
		ValidUntil:    lic.ValidUntil,
		Entitlements:  lic.Policy.Entitlements,
		ActiveDevices: lic.ActiveDeviceCount(),
		MaxDevices:    lic.Policy.MaxActivations,
	}
}

func (s *Server) myLicensesHandler(w http.ResponseWriter, r *http.Request) {
	licenses, err := s.licenseUC.ListByOwner(r.Context(), OwnerID(r.Context()))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	now := time.Now()
	data := make([]licenseResponse, 0, len(licenses))
	for _, lic := range licenses {
		data = append(data, licenseToResponse(lic, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) myLicenseHandler(w http.ResponseWriter, r *http.Request) {
	lic, err := s.licenseUC.GetLicenseForOwner(r.Context(), OwnerID(r.Context()), chi.URLParam(r, "licenseID"))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseToResponse(lic, time.Now()))
}

// ===== admin: plan catalog =====

type planRequest struct {
	ProductID             string   `json:"productId"`
	Code                  string   `json:"code"`
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	LicenseType           string   `json:"licenseType"`
	DurationDays          int      `json:"durationDays"`
	GraceDays             int      `json:"graceDays"`
	MaxActivations        int      `json:"maxActivations"`
	MaxConcurrentSessions int      `json:"maxConcurrentSessions"`
	AllowOfflineDays      int      `json:"allowOfflineDays"`
	Entitlements          []string `json:"entitlements,omitempty"`
	Active                bool     `json:"active"`
}

type planResponse struct {
	ID                    string   `json:"id"`
	ProductID             string   `json:"productId"`
	Code                  string   `json:"code"`
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	LicenseType           string   `json:"licenseType"`
	DurationDays          int      `json:"durationDays"`
	GraceDays             int      `json:"graceDays"`
	MaxActivations        int      `json:"maxActivations"`
	MaxConcurrentSessions int      `json:"maxConcurrentSessions"`
	AllowOfflineDays      int      `json:"allowOfflineDays"`
	Entitlements          []string `json:"entitlements,omitempty"`
	Active                bool     `json:"active"`
}

func planToResponse(p *model.LicensePlan) planResponse {
	return planResponse{
		ID:                    p.ID,
		ProductID:             p.ProductID,
		Code:                  p.Code,
		Name:                  p.Name,
		Description:           p.Description,
		LicenseType:           string(p.LicenseType),
		DurationDays:          p.DurationDays,
		GraceDays:             p.GraceDays,
		MaxActivations:        p.MaxActivations,
		MaxConcurrentSessions: p.MaxConcurrentSessions,
		AllowOfflineDays:      p.AllowOfflineDays,
		Entitlements:          p.Entitlements,
		Active:                p.Active,
	}
}

func (s *Server) plansCreateHandler(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}
	plan, err := s.planUC.Create(r.Context(), usecase.CreatePlanRequest{
		ProductID:             req.ProductID,
		Code:                  req.Code,
		Name:                  req.Name,
		Description:           req.Description,
		LicenseType:           model.LicenseType(req.LicenseType),
		DurationDays:          req.DurationDays,
		GraceDays:             req.GraceDays,
		MaxActivations:        req.MaxActivations,
		MaxConcurrentSessions: req.MaxConcurrentSessions,
		AllowOfflineDays:      req.AllowOfflineDays,
		Entitlements:          req.Entitlements,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, planToResponse(plan))
}

func (s *Server) plansUpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}
	plan, err := s.planUC.Update(r.Context(), chi.URLParam(r, "planID"), usecase.UpdatePlanRequest{
		Code:                  req.Code,
		Name:                  req.Name,
		Description:           req.Description,
		LicenseType:           model.LicenseType(req.LicenseType),
		DurationDays:          req.DurationDays,
		GraceDays:             req.GraceDays,
		MaxActivations:        req.MaxActivations,
		MaxConcurrentSessions: req.MaxConcurrentSessions,
		AllowOfflineDays:      req.AllowOfflineDays,
		Entitlements:          req.Entitlements,
		Active:                req.Active,
	})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planToResponse(plan))
}

func (s *Server) plansGetHandler(w http.ResponseWriter, r *http.Request) {
	plan, err := s.planUC.Get(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planToResponse(plan))
}

func (s *Server) plansListHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	plans, err := s.planUC.List(r.Context(), r.URL.Query().Get("product_id"), activeOnly)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	data := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		data = append(data, planToResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) plansDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.planUC.Delete(r.Context(), chi.URLParam(r, "planID")); err != nil {
		writeUseCaseError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===== admin: license lifecycle =====

type licenseIssueRequest struct {
	OwnerType     string `json:"ownerType"`
	OwnerID       string `json:"ownerId"`
	PlanID        string `json:"planId,omitempty"`
	PlanCode      string `json:"planCode,omitempty"`
	Usage         string `json:"usage,omitempty"`
	SourceOrderID string `json:"sourceOrderId,omitempty"`
}

func (s *Server) licenseIssueHandler(w http.ResponseWriter, r *http.Request) {
	var req licenseIssueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "ownerId is required")
		return
	}
	ownerType := model.OwnerType(req.OwnerType)
	if ownerType == "" {
		ownerType = model.OwnerTypeUser
	}
	usage := model.UsageCategory(req.Usage)
	if usage == "" {
		usage = model.UsageCategoryCommercial
	}

	var (
		lic *model.License
		err error
	)
	switch {
	case req.PlanID != "":
		lic, err = s.licenseUC.IssueWithPlan(r.Context(), ownerType, req.OwnerID, req.PlanID, req.SourceOrderID, usage)
	case req.PlanCode != "":
		lic, err = s.licenseUC.IssueWithPlanCode(r.Context(), ownerType, req.OwnerID, req.PlanCode, req.SourceOrderID, usage)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "planId or planCode is required")
		return
	}
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, licenseToResponse(lic, time.Now()))
}

func (s *Server) licenseGetHandler(w http.ResponseWriter, r *http.Request) {
	lic, err := s.licenseUC.GetLicense(r.Context(), chi.URLParam(r, "licenseID"))
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseToResponse(lic, time.Now()))
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) licenseSuspendHandler(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lic, err := s.licenseUC.Suspend(r.Context(), chi.URLParam(r, "licenseID"), req.Reason)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseToResponse(lic, time.Now()))
}

func (s *Server) licenseRevokeHandler(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lic, err := s.licenseUC.Revoke(r.Context(), chi.URLParam(r, "licenseID"), req.Reason)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseToResponse(lic, time.Now()))
}

type renewRequest struct {
	ValidUntil time.Time `json:"validUntil"`
}

func (s *Server) licenseRenewHandler(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ValidUntil.IsZero() {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "validUntil is required")
		return
	}
	lic, err := s.licenseUC.Renew(r.Context(), chi.URLParam(r, "licenseID"), req.ValidUntil)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, licenseToResponse(lic, time.Now()))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
