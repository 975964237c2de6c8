package credits

import (
	"errors"
	"testing"
)

const (
	operationName    = "issue"
	subjectName      = "grant"
	codeName         = "duplicate"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestOperationErrorUnwrapsSentinel(test *testing.T) {
	test.Parallel()
	wrappedError := WrapError(operationName, subjectName, codeName, ErrDuplicatePIN)
	if !errors.Is(wrappedError, ErrDuplicatePIN) {
		test.Fatalf("expected wrapped error to match sentinel")
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) {
		test.Fatalf("expected OperationError")
	}
	if operationError.Code() != codeName {
		test.Fatalf("expected code %q, got %q", codeName, operationError.Code())
	}
}
