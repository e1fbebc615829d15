package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// validationError reports a request that is well-formed JSON but breaks a
// field rule. details is usually a map of field name to problem.
func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// fieldErrors collects per-field validation problems.
type fieldErrors map[string]string

func (f fieldErrors) require(field, value string) {
	if isBlank(value) {
		f[field] = "is required"
	}
}

func (f fieldErrors) err(entity string) error {
	if len(f) == 0 {
		return nil
	}
	return validationError("invalid "+entity, map[string]string(f))
}
