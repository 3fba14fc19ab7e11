package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned across the service boundary. Each maps to one response
// category; handlers branch on Code/Status, never on message text.
const (
	CodeInvalidBody      = "DIR_INVALID_BODY"
	CodeInvalidPath      = "DIR_INVALID_PATH"
	CodeLocationRequired = "DIR_LOCATION_REQUIRED"
	CodeNotFound         = "DIR_NOT_FOUND"
	CodeParentNotFound   = "DIR_PARENT_NOT_FOUND"
	CodeSelfParent       = "DIR_SELF_PARENT"
	CodeCycleDetected    = "DIR_CYCLE_DETECTED"
	CodeConflict         = "DIR_CONFLICT"
	CodeAlreadyDeleted   = "DIR_ALREADY_DELETED"
	CodeInternal         = "DIR_INTERNAL"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

func invalidBody(message string, cause error) *ServiceError {
	return newServiceError(http.StatusBadRequest, CodeInvalidBody, message, cause)
}

func notFound(message string, cause error) *ServiceError {
	return newServiceError(http.StatusNotFound, CodeNotFound, message, cause)
}

func conflict(code, message string, cause error) *ServiceError {
	return newServiceError(http.StatusConflict, code, message, cause)
}

// ErrorCode extracts the service error code, or CodeInternal for anything
// that escaped classification.
func ErrorCode(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return CodeInternal
}
