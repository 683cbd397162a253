package domain

import (
	"errors"
	"fmt"
)

var (
	// Infrastructure errors. These are fatal to the request and are the only
	// errors the infra layer logs as faults.
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context for query")
)

// ErrorCode enumerates every business-rule violation the licensing core can
// report. Each code maps deterministically to a caller-visible category.
type ErrorCode string

const (
	CodeLicenseNotFound           ErrorCode = "LICENSE_NOT_FOUND"
	CodeLicenseExpired            ErrorCode = "LICENSE_EXPIRED"
	CodeLicenseSuspended          ErrorCode = "LICENSE_SUSPENDED"
	CodeLicenseRevoked            ErrorCode = "LICENSE_REVOKED"
	CodeLicenseAlreadyExists      ErrorCode = "LICENSE_ALREADY_EXISTS"
	CodeActivationLimitExceeded   ErrorCode = "ACTIVATION_LIMIT_EXCEEDED"
	CodeSessionLimitExceeded      ErrorCode = "CONCURRENT_SESSION_LIMIT_EXCEEDED"
	CodeLicenseSelectionRequired  ErrorCode = "LICENSE_SELECTION_REQUIRED"
	CodeLicenseNotFoundForProduct ErrorCode = "LICENSE_NOT_FOUND_FOR_PRODUCT"
	CodeAccessDenied              ErrorCode = "ACCESS_DENIED"
	CodeActivationNotFound        ErrorCode = "ACTIVATION_NOT_FOUND"
	CodeSessionDeactivated        ErrorCode = "SESSION_DEACTIVATED"
	CodeInvalidActivationOwner    ErrorCode = "INVALID_ACTIVATION_OWNERSHIP"
	CodeInvalidLicenseState       ErrorCode = "INVALID_LICENSE_STATE"
	CodeInvalidActivationState    ErrorCode = "INVALID_ACTIVATION_STATE"
	CodePlanNotFound              ErrorCode = "PLAN_NOT_FOUND"
	CodePlanNotAvailable          ErrorCode = "PLAN_NOT_AVAILABLE"
	CodePlanCodeDuplicate         ErrorCode = "PLAN_CODE_DUPLICATE"
)

var codeMessages = map[ErrorCode]string{
	CodeLicenseNotFound:           "license not found",
	CodeLicenseExpired:            "license has expired",
	CodeLicenseSuspended:          "license is suspended",
	CodeLicenseRevoked:            "license has been revoked",
	CodeLicenseAlreadyExists:      "a license for this product already exists",
	CodeActivationLimitExceeded:   "maximum device activations exceeded",
	CodeSessionLimitExceeded:      "maximum concurrent sessions exceeded",
	CodeLicenseSelectionRequired:  "multiple licenses match; specify licenseId",
	CodeLicenseNotFoundForProduct: "no license found for this product",
	CodeAccessDenied:              "access denied",
	CodeActivationNotFound:        "activation not found",
	CodeSessionDeactivated:        "session was deactivated from another device",
	CodeInvalidActivationOwner:    "activation does not belong to this license",
	CodeInvalidLicenseState:       "invalid license state",
	CodeInvalidActivationState:    "invalid activation state",
	CodePlanNotFound:              "plan not found",
	CodePlanNotAvailable:          "plan is not available",
	CodePlanCodeDuplicate:         "plan code already exists",
}

// Category groups error codes into the four caller-visible outcomes the API
// layer maps to HTTP statuses.
type Category int

const (
	CategoryNotFound Category = iota
	CategoryStateConflict
	CategoryAccessDenied
	CategoryValidation
)

// CategoryOf returns the caller-visible category for a code.
func CategoryOf(code ErrorCode) Category {
	switch code {
	case CodeLicenseNotFound, CodeLicenseNotFoundForProduct, CodeActivationNotFound, CodePlanNotFound:
		return CategoryNotFound
	case CodeAccessDenied:
		return CategoryAccessDenied
	case CodeLicenseExpired, CodeLicenseSuspended, CodeLicenseRevoked,
		CodeLicenseAlreadyExists, CodeActivationLimitExceeded, CodeSessionLimitExceeded,
		CodeLicenseSelectionRequired, CodeSessionDeactivated, CodeInvalidLicenseState,
		CodeInvalidActivationState, CodePlanCodeDuplicate:
		return CategoryStateConflict
	default:
		return CategoryValidation
	}
}

// LicenseError is the single typed error for business-rule violations. It is
// expected and recoverable by the caller; never log it as a fault.
type LicenseError struct {
	Code   ErrorCode
	Detail string
}

func (e *LicenseError) Error() string {
	msg := codeMessages[e.Code]
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// Message returns the canonical message for the error's code.
func (e *LicenseError) Message() string {
	if msg, ok := codeMessages[e.Code]; ok {
		return msg
	}
	return string(e.Code)
}

func NewLicenseError(code ErrorCode) *LicenseError {
	return &LicenseError{Code: code}
}

func NewLicenseErrorf(code ErrorCode, format string, args ...any) *LicenseError {
	return &LicenseError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, or "" if err is not a LicenseError.
func CodeOf(err error) ErrorCode {
	var le *LicenseError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
