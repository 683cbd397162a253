package usecase

import (
	"time"

	"bulc-license-server/internal/domain"
	"bulc-license-server/internal/domain/model"
)

// ResultKind discriminates the four shapes of a ValidationResult.
type ResultKind string

const (
	ResultSuccess              ResultKind = "success"
	ResultFailure              ResultKind = "failure"
	ResultSelectionRequired    ResultKind = "selectionRequired"
	ResultSessionLimitExceeded ResultKind = "sessionLimitExceeded"
)

// ValidationResult is the tagged union returned by validate, heartbeat and
// force-validate. Exactly one of the shape pointers is set, matching Kind.
// Business-rule failures are encoded here, not as Go errors; only
// infrastructure problems surface as errors.
type ValidationResult struct {
	Kind       ResultKind
	ServerTime time.Time

	Success         *SuccessResult
	Failure         *FailureResult
	Selection       *SelectionResult
	SessionConflict *SessionConflictResult
}

// SuccessResult carries everything a client needs after admission.
type SuccessResult struct {
	LicenseID             string
	Status                model.LicenseStatus
	ValidUntil            *time.Time
	Entitlements          []string
	SessionToken          string // empty when the session signer is disabled
	OfflineToken          string
	OfflineTokenExpiresAt *time.Time
}

type FailureResult struct {
	ErrorCode    domain.ErrorCode
	ErrorMessage string
}

// SelectionResult lists the licenses a caller must choose between. Candidates
// carry no license key.
type SelectionResult struct {
	Candidates []LicenseCandidate
}

type LicenseCandidate struct {
	LicenseID     string
	PlanName      string
	LicenseType   model.LicenseType
	Status        model.LicenseStatus
	ValidUntil    *time.Time
	OwnerScope    string
	ActiveDevices int
	MaxDevices    int
}

// SessionConflictResult enumerates live sessions so the client can drive an
// eviction UI. Fingerprints are masked.
type SessionConflictResult struct {
	LicenseID             string
	ActiveSessions        []ActiveSessionInfo
	MaxConcurrentSessions int
}

type ActiveSessionInfo struct {
	ActivationID      string
	DeviceDisplayName string
	MaskedFingerprint string
	LastSeenAt        time.Time
	ClientOS          string
	ClientVersion     string
}

func successResult(now time.Time, s *SuccessResult) ValidationResult {
	return ValidationResult{Kind: ResultSuccess, ServerTime: now, Success: s}
}

func failureResult(now time.Time, code domain.ErrorCode) ValidationResult {
	return ValidationResult{
		Kind:       ResultFailure,
		ServerTime: now,
		Failure:    &FailureResult{ErrorCode: code, ErrorMessage: domain.NewLicenseError(code).Message()},
	}
}

func selectionResult(now time.Time, candidates []LicenseCandidate) ValidationResult {
	return ValidationResult{Kind: ResultSelectionRequired, ServerTime: now, Selection: &SelectionResult{Candidates: candidates}}
}

func sessionConflictResult(now time.Time, licenseID string, sessions []ActiveSessionInfo, max int) ValidationResult {
	return ValidationResult{
		Kind:       ResultSessionLimitExceeded,
		ServerTime: now,
		SessionConflict: &SessionConflictResult{
			LicenseID:             licenseID,
			ActiveSessions:        sessions,
			MaxConcurrentSessions: max,
		},
	}
}

// MaskFingerprint hides a device fingerprint, keeping only the outer 4+4
// characters for recognition.
func MaskFingerprint(fp string) string {
	if len(fp) <= 8 {
		return "****"
	}
	return fp[:4] + "****" + fp[len(fp)-4:]
}
