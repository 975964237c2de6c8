package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credits service.
var (
	ErrInvalidEvent        = errors.New("invalid payment event")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrUnknownPIN          = errors.New("unknown pin code")
	ErrBalanceExhausted    = errors.New("balance exhausted")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamMalformed   = errors.New("upstream returned malformed result")
	ErrEntropyExhausted    = errors.New("pin generation exhausted retries")
	ErrDuplicatePIN        = errors.New("duplicate pin code")
	ErrDuplicatePayment    = errors.New("duplicate source payment id")
	ErrUnknownPayment      = errors.New("unknown source payment id")

	ErrInvalidPINCode       = errors.New("invalid pin code value")
	ErrInvalidPaymentID     = errors.New("invalid payment id")
	ErrInvalidContact       = errors.New("invalid contact address")
	ErrInvalidFullName      = errors.New("invalid full name payload")
	ErrInvalidOutputMode    = errors.New("invalid output mode")
	ErrInvalidGrantAmount   = errors.New("invalid grant amount")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
