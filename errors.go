package payflow

import "errors"

// Sentinel errors for the payment flow.
var (
	// ErrEntropyFailure indicates the secure random source failed while
	// generating an ephemeral identity. Fatal; no funds have moved.
	ErrEntropyFailure = errors.New("payflow: entropy source failure")

	// ErrFundingUnconfirmed indicates the funding transfers were not
	// observed at the ephemeral address within the confirmation window.
	ErrFundingUnconfirmed = errors.New("payflow: funding not confirmed within window")

	// ErrFundingRejected indicates the ledger rejected the funding
	// transaction (e.g., insufficient custodial balance).
	ErrFundingRejected = errors.New("payflow: funding rejected by ledger")

	// ErrNoMatchingRequirement indicates none of the server's payment
	// options match the flow's capability. Terminal; never retried.
	ErrNoMatchingRequirement = errors.New("payflow: no payment requirement matches capability")

	// ErrSettlementRejected indicates the resource server rejected the
	// signed payment (expired anchor, short amount, or replay).
	ErrSettlementRejected = errors.New("payflow: settlement rejected by resource server")

	// ErrTimeout indicates the caller-supplied deadline elapsed before
	// the flow completed.
	ErrTimeout = errors.New("payflow: flow timed out")

	// ErrSweepIncomplete indicates residual funds could not be fully
	// recovered from the ephemeral address. Non-fatal.
	ErrSweepIncomplete = errors.New("payflow: sweep incomplete, funds may be stranded")

	// ErrReplay indicates an attempt to submit the same signed payment
	// twice within one flow.
	ErrReplay = errors.New("payflow: signed payment already submitted")

	// ErrLedgerRejected indicates the ledger rejected a submitted
	// transaction. Not retryable.
	ErrLedgerRejected = errors.New("payflow: transaction rejected by ledger")

	// ErrUnconfirmed indicates a submitted transaction was not confirmed
	// within the polling window. The transaction may still land.
	ErrUnconfirmed = errors.New("payflow: transaction not confirmed within window")

	// ErrNetworkError indicates a transient network failure talking to
	// the ledger or the resource server. Retryable by the caller.
	ErrNetworkError = errors.New("payflow: network error")

	// ErrInvalidRequirements indicates the payment requirements from the
	// server are malformed.
	ErrInvalidRequirements = errors.New("payflow: invalid payment requirements")

	// ErrMalformedHeader indicates the payment header is malformed.
	ErrMalformedHeader = errors.New("payflow: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported protocol version.
	ErrUnsupportedVersion = errors.New("payflow: unsupported protocol version")

	// ErrNoValidSigner indicates no signer can satisfy the requirements.
	ErrNoValidSigner = errors.New("payflow: no signer can satisfy payment requirements")

	// ErrAmountExceeded indicates the payment exceeds a per-call limit.
	ErrAmountExceeded = errors.New("payflow: payment amount exceeds per-call limit")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("payflow: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("payflow: invalid private key")

	// ErrInvalidNetwork indicates an unsupported network identifier.
	ErrInvalidNetwork = errors.New("payflow: invalid or unsupported network")

	// ErrInvalidToken indicates invalid token configuration.
	ErrInvalidToken = errors.New("payflow: invalid token configuration")

	// ErrSigningFailed indicates a signing operation failed.
	ErrSigningFailed = errors.New("payflow: signing failed")

	// ErrIdentityDestroyed indicates a signing attempt with an identity
	// whose key material has already been zeroed.
	ErrIdentityDestroyed = errors.New("payflow: ephemeral identity destroyed")
)

// ErrorCode classifies flow errors for programmatic handling.
type ErrorCode string

const (
	CodeEntropyFailure        ErrorCode = "ENTROPY_FAILURE"
	CodeFundingUnconfirmed    ErrorCode = "FUNDING_UNCONFIRMED"
	CodeFundingRejected       ErrorCode = "FUNDING_REJECTED"
	CodeNoMatchingRequirement ErrorCode = "NO_MATCHING_REQUIREMENT"
	CodeSettlementRejected    ErrorCode = "SETTLEMENT_REJECTED"
	CodeTimeout               ErrorCode = "TIMEOUT"
	CodeSweepIncomplete       ErrorCode = "SWEEP_INCOMPLETE"
	CodeNetworkError          ErrorCode = "NETWORK_ERROR"
	CodeInvalidRequirements   ErrorCode = "INVALID_REQUIREMENTS"
	CodeSigningFailed         ErrorCode = "SIGNING_FAILED"
	CodeNoValidSigner         ErrorCode = "NO_VALID_SIGNER"
	CodeUnsupportedVersion    ErrorCode = "UNSUPPORTED_VERSION"
)

// FlowError provides structured error information for a payment flow.
type FlowError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context, such as the ephemeral
	// address and last known balances on stranded-funds conditions.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError creates a FlowError with the given code and message.
func NewFlowError(code ErrorCode, message string, err error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
func (e *FlowError) WithDetails(key string, value interface{}) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the chain
// contains no FlowError.
func CodeOf(err error) ErrorCode {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
