package errors

import (
	"errors"
	"fmt"
)

// SDKError represents an SDK-level error with a stable machine-readable code
type SDKError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *SDKError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeConfiguration    = "configuration_error"
	ErrCodeAuthentication   = "authentication_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeWalletNotFound   = "wallet_not_found"
	ErrCodeCreationFailed   = "wallet_creation_failed"
	ErrCodeRecoveryRequired = "wallet_recovery_required"
	ErrCodeRecoveryFailed   = "wallet_recovery_failed"
	ErrCodeSigningFailed    = "signing_failed"
	ErrCodeNetwork          = "network_error"
	ErrCodePollingFailed    = "polling_failed"
	ErrCodeOTPDelivery      = "otp_delivery_failed"
	ErrCodeNoOTPIdentifier  = "no_verified_identifier"
	ErrCodeExportDenied     = "export_denied"
)

// Predefined errors
var (
	ErrNotAuthenticated = &SDKError{
		Code:    ErrCodeAuthentication,
		Message: "No authenticated session",
	}

	ErrNoVerifiedIdentifier = &SDKError{
		Code:    ErrCodeNoOTPIdentifier,
		Message: "User has no verified email or phone to deliver a one-time code to",
	}

	ErrPollingFailed = &SDKError{
		Code:    ErrCodePollingFailed,
		Message: "Embedded state polling stopped after repeated failures",
	}
)

// New creates a new SDKError
func New(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message}
}

// NewWithDetail creates a new SDKError with additional detail
func NewWithDetail(code, message, detail string) *SDKError {
	return &SDKError{Code: code, Message: message, Detail: detail}
}

// Configuration creates a configuration error (not retryable without a code change)
func Configuration(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeConfiguration,
		Message: "Invalid SDK configuration",
		Detail:  detail,
	}
}

// Validation creates a bad-caller-input error
func Validation(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeValidation,
		Message: "Invalid request parameters",
		Detail:  detail,
	}
}

// Authentication creates an authentication error
func Authentication(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeAuthentication,
		Message: "No valid session or token",
		Detail:  detail,
	}
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(address string) *SDKError {
	return &SDKError{
		Code:    ErrCodeWalletNotFound,
		Message: "Wallet not found",
		Detail:  fmt.Sprintf("address: %s", address),
	}
}

// CreationFailed wraps a custody-service create rejection
func CreationFailed(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeCreationFailed,
		Message: "Wallet creation failed",
		Detail:  detail,
	}
}

// RecoveryFailed wraps a custody-service recover rejection
func RecoveryFailed(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeRecoveryFailed,
		Message: "Wallet recovery failed",
		Detail:  detail,
	}
}

// SigningFailed wraps a rejected signing request
func SigningFailed(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeSigningFailed,
		Message: "Signing request rejected",
		Detail:  detail,
	}
}

// Network creates a transient transport error
func Network(detail string) *SDKError {
	return &SDKError{
		Code:    ErrCodeNetwork,
		Message: "Custody service unreachable",
		Detail:  detail,
	}
}

// IsSDKError checks if an error is an SDKError
func IsSDKError(err error) (*SDKError, bool) {
	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		return sdkErr, true
	}
	return nil, false
}

// IsCode reports whether err is an SDKError with the given code
func IsCode(err error, code string) bool {
	if sdkErr, ok := IsSDKError(err); ok {
		return sdkErr.Code == code
	}
	return false
}
