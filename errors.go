package ivxp

import "fmt"

// Error is the single coded error type used across IVXP. Every failure
// surfaced by this module — from the crypto layer up through the client
// orchestrator — is either an *Error or wraps one via Cause.
type Error struct {
	Code        string
	Message     string
	Recoverable bool
	Details     map[string]interface{}
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that chains an underlying cause.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetails attaches structured detail data and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRecoverable sets the Recoverable flag and returns the same error for chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// CodeOf extracts the Code of err if it is (or wraps) an *Error, else "".
func CodeOf(err error) string {
	var e *Error
	if asError(err, &e) {
		return e.Code
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Validation error codes (non-recoverable).
const (
	ErrInvalidProviderURL   = "INVALID_PROVIDER_URL"
	ErrInvalidRequestParams = "INVALID_REQUEST_PARAMS"
	ErrInvalidProviderConfig = "INVALID_PROVIDER_CONFIG"
	ErrInvalidPrivateKey    = "INVALID_PRIVATE_KEY"
	ErrInvalidMessage       = "INVALID_MESSAGE"
	ErrInvalidSignature     = "INVALID_SIGNATURE"
	ErrInvalidAddress       = "INVALID_ADDRESS"
	ErrInvalidSignedMessage = "INVALID_SIGNED_MESSAGE"
	ErrInvalidDeliveryURL   = "INVALID_DELIVERY_URL"
	ErrRequestTooLarge      = "REQUEST_TOO_LARGE"
)

// Protocol semantics error codes.
const (
	ErrServiceNotFound          = "SERVICE_NOT_FOUND"
	ErrOrderNotFound            = "ORDER_NOT_FOUND"
	ErrInvalidOrderStatus       = "INVALID_ORDER_STATUS"
	ErrNetworkMismatch          = "NETWORK_MISMATCH"
	ErrOrderIDMismatch          = "ORDER_ID_MISMATCH"
	ErrOrderAlreadyConfirmed    = "ORDER_ALREADY_CONFIRMED"
	ErrDeliverableAlreadyExists = "DELIVERABLE_ALREADY_EXISTS"
	ErrDeliverableNotReady      = "DELIVERABLE_NOT_READY"
)

// Verification error codes.
const (
	ErrPaymentVerificationFailed   = "PAYMENT_VERIFICATION_FAILED"
	ErrSignatureVerificationFailed = "SIGNATURE_VERIFICATION_FAILED"
	ErrHashMismatch                = "HASH_MISMATCH"
)

// Transport error codes (recoverable).
const (
	ErrNetworkError       = "NETWORK_ERROR"
	ErrProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrRequestFailed      = "REQUEST_FAILED"
	ErrInvalidResponse    = "INVALID_RESPONSE"
	ErrMaxPollAttempts    = "MAX_POLL_ATTEMPTS"
	ErrSSEExhausted       = "SSE_EXHAUSTED"
	ErrCancelled          = "CANCELLED"
)

// Composite error codes.
const (
	ErrBudgetExceeded = "BUDGET_EXCEEDED"
	ErrPartialSuccess = "PARTIAL_SUCCESS"
	ErrTimeout        = "TIMEOUT"
	ErrDeliveryFailed = "DELIVERY_FAILED"
)

// BudgetExceededError carries the quote and budget that triggered it.
type BudgetExceededError struct {
	*Error
	PriceUsdc  string
	BudgetUsdc string
}

// NewBudgetExceededError builds a BudgetExceededError.
func NewBudgetExceededError(priceUsdc, budgetUsdc string) *BudgetExceededError {
	return &BudgetExceededError{
		Error: New(ErrBudgetExceeded, fmt.Sprintf("quote %s USDC exceeds budget %s USDC", priceUsdc, budgetUsdc)),
		PriceUsdc:  priceUsdc,
		BudgetUsdc: budgetUsdc,
	}
}

// PartialSuccessError signals an on-chain send succeeded but the provider
// never acknowledged it. Recoverable: the caller can re-notify or verify.
type PartialSuccessError struct {
	*Error
	TxHash string
}

// NewPartialSuccessError builds a PartialSuccessError.
func NewPartialSuccessError(txHash string, cause error) *PartialSuccessError {
	return &PartialSuccessError{
		Error:  Wrap(ErrPartialSuccess, "on-chain payment sent but provider notification failed", cause).WithRecoverable(true),
		TxHash: txHash,
	}
}

// ProviderError wraps an otherwise-uncoded failure encountered while an
// orchestrator step talked to a specific provider, preserving the cause.
type ProviderError struct {
	*Error
	ProviderURL string
	Step        string
}

// NewProviderError builds a ProviderError.
func NewProviderError(providerURL, step string, cause error) *ProviderError {
	return &ProviderError{
		Error:       Wrap(ErrProviderUnavailable, fmt.Sprintf("provider request failed at step %q", step), cause).WithRecoverable(true),
		ProviderURL: providerURL,
		Step:        step,
	}
}

// TimeoutError carries the step at which the timeout fired and any partial state.
type TimeoutError struct {
	*Error
	Step         string
	PartialState map[string]interface{}
}

// NewTimeoutError builds a TimeoutError.
func NewTimeoutError(step string, partialState map[string]interface{}) *TimeoutError {
	return &TimeoutError{
		Error:        New(ErrTimeout, fmt.Sprintf("operation timed out at step %q", step)),
		Step:         step,
		PartialState: partialState,
	}
}
